package entity

// Contact is the canonical directory record persisted in the snapshot.
type Contact struct {
	ID             string   `json:"id"`
	UpdatedAt      string   `json:"updated_at"`
	Company        string   `json:"company"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	Address        string   `json:"address"`
	Phones         []string `json:"phones"`
	Email          string   `json:"email"`
	AttachmentURL  string   `json:"attachment_url,omitempty"`
	AttachmentPath string   `json:"attachment_path,omitempty"`
}

// HasEmail reports the contact's classification for the partitioned exports.
func (c Contact) HasEmail() bool {
	return c.Email != ""
}
