package history

import (
	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/odm"
)

// Capture returns the diff baseline of a document: its depopulated data
// without the identity and, for schemas with timestamps, without createdAt
// and updatedAt. The document is not modified.
func Capture(doc *odm.Document) (domain.Snapshot, error) {
	data := doc.ToObject(true)
	delete(data, domain.IdentityField)
	for _, field := range doc.Model().Schema().TimestampFields() {
		delete(data, field)
	}
	return domain.NewSnapshot(data)
}
