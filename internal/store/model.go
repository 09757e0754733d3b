package store

// Document is one persisted record of a user's product collection. The
// payload is schemaless JSON; field-level semantics live with the callers.
// The storage key (user_id, doc_id) is authoritative for identity: any id
// inside the payload body is overridden by doc_id when projected.
type Document struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	DocID            string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "product_documents"
}
