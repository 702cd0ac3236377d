package constants

// OData primitive type names
const (
	EdmString         = "Edm.String"
	EdmInt16          = "Edm.Int16"
	EdmInt32          = "Edm.Int32"
	EdmInt64          = "Edm.Int64"
	EdmBoolean        = "Edm.Boolean"
	EdmByte           = "Edm.Byte"
	EdmSByte          = "Edm.SByte"
	EdmSingle         = "Edm.Single"
	EdmDouble         = "Edm.Double"
	EdmDecimal        = "Edm.Decimal"
	EdmDateTime       = "Edm.DateTime"
	EdmDateTimeOffset = "Edm.DateTimeOffset"
	EdmDate           = "Edm.Date"
	EdmTimeOfDay      = "Edm.TimeOfDay"
	EdmGuid           = "Edm.Guid"
	EdmBinary         = "Edm.Binary"
	EdmStream         = "Edm.Stream"
)

// HTTP methods accepted as operation names
const (
	GET   = "GET"
	POST  = "POST"
	PUT   = "PUT"
	PATCH = "PATCH"
	MERGE = "MERGE"
)

// HTTP headers
const (
	Accept = "Accept"
)

// Content types
const (
	ContentTypeJSON      = "application/json"
	ContentTypeXML       = "application/xml"
	ContentTypeAtomXML   = "application/atom+xml"
	ContentTypeODataJSON = "application/json;odata=verbose"
)

// Media type parameters used to select the payload metadata level
const (
	MetadataParameter = "odata.metadata"
	MetadataFull      = "full"
	MetadataMinimal   = "minimal"
	MetadataNone      = "none"
)

// Instance and property annotations of the JSON format
const (
	ODataContext          = "@odata.context"
	ODataType             = "@odata.type"
	ODataID               = "@odata.id"
	ODataEditLink         = "@odata.editLink"
	ODataReadLink         = "@odata.readLink"
	ODataETag             = "@odata.etag"
	ODataCount            = "@odata.count"
	ODataNextLink         = "@odata.nextLink"
	ODataBind             = "@odata.bind"
	ODataNavigationLink   = "@odata.navigationLink"
	ODataAssociationLink  = "@odata.associationLink"
	ODataMediaEditLink    = "@odata.mediaEditLink"
	ODataMediaReadLink    = "@odata.mediaReadLink"
	ODataMediaContentType = "@odata.mediaContentType"
	ODataMediaETag        = "@odata.mediaEtag"
	ODataValue            = "value"
	ODataAnnotationPrefix = "@"
)

// URI conventions
const (
	MetadataEndpoint = "$metadata"
	ValueSegment     = "$value"
	RefSegment       = "$ref"
	EntitySuffix     = "/$entity"
	QuerySkipToken   = "$skiptoken"
)

// Default values
const (
	DefaultMaxRecursionDepth = 100
	DefaultMaxObjectCount    = 1000
)
