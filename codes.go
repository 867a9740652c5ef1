package ejdb2

import "fmt"

// ErrorCode is an engine result code with the errno bits stripped.
type ErrorCode uint64

// Well-known engine codes. The engine defines many more; any code not listed
// here still surfaces through *Error with its numeric value.
const (
	// iowow generic errors.
	ErrCodeFail            ErrorCode = 70001
	ErrCodeErrno           ErrorCode = 70002
	ErrCodeIOErrno         ErrorCode = 70003
	ErrCodeAgain           ErrorCode = 70004
	ErrCodeNotExists       ErrorCode = 70005
	ErrCodeReadonly        ErrorCode = 70006
	ErrCodeAlreadyOpened   ErrorCode = 70007
	ErrCodeThreading       ErrorCode = 70008
	ErrCodeThreadingErrno  ErrorCode = 70009
	ErrCodeAssertion       ErrorCode = 70010
	ErrCodeInvalidHandle   ErrorCode = 70011
	ErrCodeOutOfBounds     ErrorCode = 70012
	ErrCodeNotImplemented  ErrorCode = 70013
	ErrCodeAlloc           ErrorCode = 70014
	ErrCodeInvalidState    ErrorCode = 70015
	ErrCodeNotAligned      ErrorCode = 70016
	ErrCodeFalse           ErrorCode = 70017
	ErrCodeInvalidArgs     ErrorCode = 70018
	ErrCodeOverflow        ErrorCode = 70019
	ErrCodeInvalidValue    ErrorCode = 70020
	ErrCodeKVNotFound      ErrorCode = 75001
	ErrCodeKVKeyExists     ErrorCode = 75002
	ErrCodeKVMaxKVSZ       ErrorCode = 75003
	ErrCodeKVCorrupted     ErrorCode = 75004
	ErrCodeKVDupValueSize  ErrorCode = 75005
	ErrCodeKVKeyNumValSize ErrorCode = 75006
	ErrCodeKVIncompatible  ErrorCode = 75007
	ErrCodeKVMaxDBs        ErrorCode = 75008

	// JSON binary (jbl) errors.
	ErrCodeJBLInvalidBuffer          ErrorCode = 86001
	ErrCodeJBLCreation               ErrorCode = 86002
	ErrCodeJBLInvalid                ErrorCode = 86003
	ErrCodeJBLParseJSON              ErrorCode = 86004
	ErrCodeJBLParseUnquotedString    ErrorCode = 86005
	ErrCodeJBLParseInvalidCodepoint  ErrorCode = 86006
	ErrCodeJBLParseInvalidUTF8       ErrorCode = 86007
	ErrCodeJBLJSONPointer            ErrorCode = 86008
	ErrCodeJBLPathNotFound           ErrorCode = 86009
	ErrCodeJBLPatchInvalid           ErrorCode = 86010
	ErrCodeJBLPatchInvalidOp         ErrorCode = 86011
	ErrCodeJBLPatchNoValue           ErrorCode = 86012
	ErrCodeJBLPatchTargetInvalid     ErrorCode = 86013
	ErrCodeJBLPatchInvalidValue      ErrorCode = 86014
	ErrCodeJBLPatchInvalidArrayIndex ErrorCode = 86015
	ErrCodeJBLNotAnObject            ErrorCode = 86016
	ErrCodeJBLTypeMismatched         ErrorCode = 86017
	ErrCodeJBLPatchTestFailed        ErrorCode = 86018
	ErrCodeJBLMaxNesting             ErrorCode = 86019

	// JQL errors.
	ErrCodeQueryParse                  ErrorCode = 87001
	ErrCodeInvalidPlaceholder          ErrorCode = 87002
	ErrCodeUnsetPlaceholder            ErrorCode = 87003
	ErrCodeRegexpInvalid               ErrorCode = 87004
	ErrCodeRegexpCharset               ErrorCode = 87005
	ErrCodeRegexpSubexp                ErrorCode = 87006
	ErrCodeRegexpSubmatch              ErrorCode = 87007
	ErrCodeRegexpEngine                ErrorCode = 87008
	ErrCodeSkipAlreadySet              ErrorCode = 87009
	ErrCodeLimitAlreadySet             ErrorCode = 87010
	ErrCodeOrderByMaxLimit             ErrorCode = 87011
	ErrCodeNoCollection                ErrorCode = 87012
	ErrCodeInvalidPlaceholderValueType ErrorCode = 87013

	// EJDB errors.
	ErrCodeInvalidCollectionMeta         ErrorCode = 88001
	ErrCodeInvalidCollectionIndexMeta    ErrorCode = 88002
	ErrCodeInvalidIndexMode              ErrorCode = 88003
	ErrCodeMismatchedIndexUniquenessMode ErrorCode = 88004
	ErrCodeUniqueIndexConstraintViolated ErrorCode = 88005
	ErrCodeCollectionNotFound            ErrorCode = 88006
	ErrCodeTargetCollectionExists        ErrorCode = 88007
	ErrCodePatchJSONNotObject            ErrorCode = 88008
)

var codeNames = map[ErrorCode]string{
	ErrCodeFail:           "IW_ERROR_FAIL",
	ErrCodeErrno:          "IW_ERROR_ERRNO",
	ErrCodeIOErrno:        "IW_ERROR_IO_ERRNO",
	ErrCodeAgain:          "IW_ERROR_AGAIN",
	ErrCodeNotExists:      "IW_ERROR_NOT_EXISTS",
	ErrCodeReadonly:       "IW_ERROR_READONLY",
	ErrCodeAlreadyOpened:  "IW_ERROR_ALREADY_OPENED",
	ErrCodeThreading:      "IW_ERROR_THREADING",
	ErrCodeThreadingErrno: "IW_ERROR_THREADING_ERRNO",
	ErrCodeAssertion:      "IW_ERROR_ASSERTION",
	ErrCodeInvalidHandle:  "IW_ERROR_INVALID_HANDLE",
	ErrCodeOutOfBounds:    "IW_ERROR_OUT_OF_BOUNDS",
	ErrCodeNotImplemented: "IW_ERROR_NOT_IMPLEMENTED",
	ErrCodeAlloc:          "IW_ERROR_ALLOC",
	ErrCodeInvalidState:   "IW_ERROR_INVALID_STATE",
	ErrCodeNotAligned:     "IW_ERROR_NOT_ALIGNED",
	ErrCodeFalse:          "IW_ERROR_FALSE",
	ErrCodeInvalidArgs:    "IW_ERROR_INVALID_ARGS",
	ErrCodeOverflow:       "IW_ERROR_OVERFLOW",
	ErrCodeInvalidValue:   "IW_ERROR_INVALID_VALUE",

	ErrCodeKVNotFound:      "IWKV_ERROR_NOTFOUND",
	ErrCodeKVKeyExists:     "IWKV_ERROR_KEY_EXISTS",
	ErrCodeKVMaxKVSZ:       "IWKV_ERROR_MAXKVSZ",
	ErrCodeKVCorrupted:     "IWKV_ERROR_CORRUPTED",
	ErrCodeKVDupValueSize:  "IWKV_ERROR_DUP_VALUE_SIZE",
	ErrCodeKVKeyNumValSize: "IWKV_ERROR_KEY_NUM_VALUE_SIZE",
	ErrCodeKVIncompatible:  "IWKV_ERROR_INCOMPATIBLE_DB_FORMAT",
	ErrCodeKVMaxDBs:        "IWKV_ERROR_MAX_DBS",

	ErrCodeJBLInvalidBuffer:          "JBL_ERROR_INVALID_BUFFER",
	ErrCodeJBLCreation:               "JBL_ERROR_CREATION",
	ErrCodeJBLInvalid:                "JBL_ERROR_INVALID",
	ErrCodeJBLParseJSON:              "JBL_ERROR_PARSE_JSON",
	ErrCodeJBLParseUnquotedString:    "JBL_ERROR_PARSE_UNQUOTED_STRING",
	ErrCodeJBLParseInvalidCodepoint:  "JBL_ERROR_PARSE_INVALID_CODEPOINT",
	ErrCodeJBLParseInvalidUTF8:       "JBL_ERROR_PARSE_INVALID_UTF8",
	ErrCodeJBLJSONPointer:            "JBL_ERROR_JSON_POINTER",
	ErrCodeJBLPathNotFound:           "JBL_ERROR_PATH_NOTFOUND",
	ErrCodeJBLPatchInvalid:           "JBL_ERROR_PATCH_INVALID",
	ErrCodeJBLPatchInvalidOp:         "JBL_ERROR_PATCH_INVALID_OP",
	ErrCodeJBLPatchNoValue:           "JBL_ERROR_PATCH_NOVALUE",
	ErrCodeJBLPatchTargetInvalid:     "JBL_ERROR_PATCH_TARGET_INVALID",
	ErrCodeJBLPatchInvalidValue:      "JBL_ERROR_PATCH_INVALID_VALUE",
	ErrCodeJBLPatchInvalidArrayIndex: "JBL_ERROR_PATCH_INVALID_ARRAY_INDEX",
	ErrCodeJBLNotAnObject:            "JBL_ERROR_NOT_AN_OBJECT",
	ErrCodeJBLTypeMismatched:         "JBL_ERROR_TYPE_MISMATCHED",
	ErrCodeJBLPatchTestFailed:        "JBL_ERROR_PATCH_TEST_FAILED",
	ErrCodeJBLMaxNesting:             "JBL_ERROR_MAX_NESTING_LEVEL_EXCEEDED",

	ErrCodeQueryParse:                  "JQL_ERROR_QUERY_PARSE",
	ErrCodeInvalidPlaceholder:          "JQL_ERROR_INVALID_PLACEHOLDER",
	ErrCodeUnsetPlaceholder:            "JQL_ERROR_UNSET_PLACEHOLDER",
	ErrCodeRegexpInvalid:               "JQL_ERROR_REGEXP_INVALID",
	ErrCodeRegexpCharset:               "JQL_ERROR_REGEXP_CHARSET",
	ErrCodeRegexpSubexp:                "JQL_ERROR_REGEXP_SUBEXP",
	ErrCodeRegexpSubmatch:              "JQL_ERROR_REGEXP_SUBMATCH",
	ErrCodeRegexpEngine:                "JQL_ERROR_REGEXP_ENGINE",
	ErrCodeSkipAlreadySet:              "JQL_ERROR_SKIP_ALREADY_SET",
	ErrCodeLimitAlreadySet:             "JQL_ERROR_LIMIT_ALREADY_SET",
	ErrCodeOrderByMaxLimit:             "JQL_ERROR_ORDERBY_MAX_LIMIT",
	ErrCodeNoCollection:                "JQL_ERROR_NO_COLLECTION",
	ErrCodeInvalidPlaceholderValueType: "JQL_ERROR_INVALID_PLACEHOLDER_VALUE_TYPE",

	ErrCodeInvalidCollectionMeta:         "EJDB_ERROR_INVALID_COLLECTION_META",
	ErrCodeInvalidCollectionIndexMeta:    "EJDB_ERROR_INVALID_COLLECTION_INDEX_META",
	ErrCodeInvalidIndexMode:              "EJDB_ERROR_INVALID_INDEX_MODE",
	ErrCodeMismatchedIndexUniquenessMode: "EJDB_ERROR_MISMATCHED_INDEX_UNIQUENESS_MODE",
	ErrCodeUniqueIndexConstraintViolated: "EJDB_ERROR_UNIQUE_INDEX_CONSTRAINT_VIOLATED",
	ErrCodeCollectionNotFound:            "EJDB_ERROR_COLLECTION_NOT_FOUND",
	ErrCodeTargetCollectionExists:        "EJDB_ERROR_TARGET_COLLECTION_EXISTS",
	ErrCodePatchJSONNotObject:            "EJDB_ERROR_PATCH_JSON_NOT_OBJECT",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", uint64(c))
}

// parse errors carry positional detail from the engine that must reach the caller verbatim.
func (c ErrorCode) isParse() bool {
	switch c {
	case ErrCodeJBLParseJSON, ErrCodeJBLParseUnquotedString, ErrCodeJBLParseInvalidCodepoint,
		ErrCodeJBLParseInvalidUTF8, ErrCodeQueryParse:
		return true
	}
	return false
}

func (c ErrorCode) isNotFound() bool {
	return c == ErrCodeNotExists || c == ErrCodeKVNotFound
}
