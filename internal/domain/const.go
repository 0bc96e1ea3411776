package domain

const (
	RequesterSignKeyCtxKey = "ec-requesterSignKey"
	RequesterAddressCtxKey = "ec-requesterAddress"
)

const SchemaBase = "https://specs.livecontracts.io/v0.2.0/"

// Schemas of the resources the node itself writes or inspects.
const (
	IdentitySchema = SchemaBase + "identity/schema.json#"
	CommentSchema  = SchemaBase + "comment/schema.json#"
	ErrorSchema    = SchemaBase + "error/schema.json#"
)
