package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008
	ErrLocked          = 1009

	// Auth errors (2000-2999)
	ErrAuthInvalidCredentials = 2000
	ErrAuthUserNotFound       = 2001
	ErrAuthInvalidToken       = 2002
	ErrAuthTokenExpired       = 2003

	// Project and folder errors (3000-3999)
	ErrProjectNotFound      = 3000
	ErrFolderNotFound       = 3001
	ErrFolderStorageInvalid = 3002

	// Storage errors (4000-4999)
	ErrStorageNotFound        = 4000
	ErrStorageKindUnknown     = 4001
	ErrStorageNotApproved     = 4002
	ErrStorageNotMounted      = 4003
	ErrStorageKindDisabled    = 4004
	ErrStorageInUse           = 4005
	ErrStoragePathDecrypt     = 4006
	ErrStorageBackendFailed   = 4007
	ErrStorageDefaultRequired = 4008

	// Upload errors (5000-5999)
	ErrDatasetNotFound         = 5000
	ErrDatasetAlreadyPublished = 5001
	ErrDatasetFolderRequired   = 5002
	ErrVersionNotFound         = 5004
	ErrVersionNotRestorable    = 5005
	ErrVersionEditRestricted   = 5006
	ErrVersionFileNotFound     = 5007
	ErrVersionFileMissing      = 5008
	ErrUploadFailed            = 5009

	// Metadata errors (6000-6999)
	ErrMetadataFieldRequired  = 6000
	ErrMetadataFieldConflict  = 6001
	ErrMetadataTemplateNotFnd = 6002
	ErrMetadataReadOnly       = 6003
	ErrMetadataTargetInvalid  = 6004
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},
	ErrLocked:          {ErrLocked, http.StatusForbidden, "Resource is locked by another user"},

	// Auth errors
	ErrAuthInvalidCredentials: {ErrAuthInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	ErrAuthUserNotFound:       {ErrAuthUserNotFound, http.StatusNotFound, "User not found"},
	ErrAuthInvalidToken:       {ErrAuthInvalidToken, http.StatusUnauthorized, "Invalid or expired token"},
	ErrAuthTokenExpired:       {ErrAuthTokenExpired, http.StatusUnauthorized, "Token expired"},

	// Project and folder errors
	ErrProjectNotFound:      {ErrProjectNotFound, http.StatusNotFound, "Project not found"},
	ErrFolderNotFound:       {ErrFolderNotFound, http.StatusNotFound, "Folder not found"},
	ErrFolderStorageInvalid: {ErrFolderStorageInvalid, http.StatusBadRequest, "Folder storage is not usable"},

	// Storage errors
	ErrStorageNotFound:        {ErrStorageNotFound, http.StatusNotFound, "Storage not found"},
	ErrStorageKindUnknown:     {ErrStorageKindUnknown, http.StatusBadRequest, "Unknown storage kind"},
	ErrStorageNotApproved:     {ErrStorageNotApproved, http.StatusForbidden, "Storage has not been approved"},
	ErrStorageNotMounted:      {ErrStorageNotMounted, http.StatusConflict, "Storage mount is not available"},
	ErrStorageKindDisabled:    {ErrStorageKindDisabled, http.StatusForbidden, "Storage kind is disabled"},
	ErrStorageInUse:           {ErrStorageInUse, http.StatusConflict, "Storage is still referenced by folders"},
	ErrStoragePathDecrypt:     {ErrStoragePathDecrypt, http.StatusInternalServerError, "Failed to decrypt storage path"},
	ErrStorageBackendFailed:   {ErrStorageBackendFailed, http.StatusInternalServerError, "Storage backend operation failed"},
	ErrStorageDefaultRequired: {ErrStorageDefaultRequired, http.StatusConflict, "A default storage is required"},

	// Upload errors
	ErrDatasetNotFound:         {ErrDatasetNotFound, http.StatusNotFound, "Dataset not found"},
	ErrDatasetAlreadyPublished: {ErrDatasetAlreadyPublished, http.StatusConflict, "Dataset is already published"},
	ErrDatasetFolderRequired:   {ErrDatasetFolderRequired, http.StatusBadRequest, "Dataset must be assigned to a folder before publishing"},
	ErrVersionNotFound:         {ErrVersionNotFound, http.StatusNotFound, "Version not found"},
	ErrVersionNotRestorable:    {ErrVersionNotRestorable, http.StatusBadRequest, "Version cannot be restored"},
	ErrVersionEditRestricted:   {ErrVersionEditRestricted, http.StatusForbidden, "Published versions allow only name and status changes"},
	ErrVersionFileNotFound:     {ErrVersionFileNotFound, http.StatusNotFound, "Version file not found"},
	ErrVersionFileMissing:      {ErrVersionFileMissing, http.StatusConflict, "Version has no file attached"},
	ErrUploadFailed:            {ErrUploadFailed, http.StatusInternalServerError, "File upload failed"},

	// Metadata errors
	ErrMetadataFieldRequired:  {ErrMetadataFieldRequired, http.StatusBadRequest, "Either a metadata field or a custom key is required"},
	ErrMetadataFieldConflict:  {ErrMetadataFieldConflict, http.StatusBadRequest, "Metadata field and custom key are mutually exclusive"},
	ErrMetadataTemplateNotFnd: {ErrMetadataTemplateNotFnd, http.StatusNotFound, "Metadata template not found"},
	ErrMetadataReadOnly:       {ErrMetadataReadOnly, http.StatusForbidden, "Metadata entry is read-only"},
	ErrMetadataTargetInvalid:  {ErrMetadataTargetInvalid, http.StatusBadRequest, "Metadata target kind is not attachable"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsSuccess checks if the code represents success
func IsSuccess(code int) bool {
	return code == Success
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
