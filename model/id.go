package model

import "github.com/google/uuid"

// assignID fills an empty string primary key with a fresh UUID, mirroring
// the document ids a hosted store would hand out on create.
func assignID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
