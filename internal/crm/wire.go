package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a JSON:API resource id. The CRM emits numeric ids; ID accepts numbers and strings.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("resource id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// ResourceRef is a JSON:API resource identifier.
type ResourceRef struct {
	Type string `json:"type"`
	ID   ID     `json:"id"`
}

// Relationship is a to-one JSON:API relationship.
type Relationship struct {
	Data *ResourceRef `json:"data"`
}

// Links carries pagination links of a collection document.
type Links struct {
	Next string `json:"next,omitempty"`
}

// CallAttributes are the attributes of a call resource. Pointers distinguish absent fields.
type CallAttributes struct {
	Subject             *string `json:"subject,omitempty"`
	Body                *string `json:"body,omitempty"`
	CallDisposition     *string `json:"callDisposition,omitempty"`
	CallDurationSeconds *int    `json:"callDurationSeconds,omitempty"`
	OccurredAt          *string `json:"occurredAt,omitempty"`
	CreatedAt           *string `json:"createdAt,omitempty"`
	UpdatedAt           *string `json:"updatedAt,omitempty"`
}

// CallResource is one call in a collection or single-resource document.
type CallResource struct {
	Type          string         `json:"type"`
	ID            ID             `json:"id"`
	Attributes    CallAttributes `json:"attributes"`
	Relationships struct {
		Prospect Relationship `json:"prospect"`
	} `json:"relationships"`
}

// DecodeCall decodes a raw call resource.
func DecodeCall(raw json.RawMessage) (CallResource, error) {
	var r CallResource
	if err := json.Unmarshal(raw, &r); err != nil {
		return CallResource{}, err
	}
	return r, nil
}

type callPage struct {
	Data  []json.RawMessage `json:"data"`
	Links Links             `json:"links"`
}

// ProspectAttributes are the attributes of a prospect resource.
type ProspectAttributes struct {
	Name      string   `json:"name,omitempty"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Email     string   `json:"email,omitempty"`
	Emails    []string `json:"emails,omitempty"`
	Company   string   `json:"company,omitempty"`
}

// ProspectResource is one prospect in a search result.
type ProspectResource struct {
	Type       string             `json:"type"`
	ID         ID                 `json:"id"`
	Attributes ProspectAttributes `json:"attributes"`
}

type prospectPage struct {
	Data []ProspectResource `json:"data"`
}

// CallInput is the payload used to create a call activity for a prospect.
type CallInput struct {
	ProspectID          string
	Subject             string
	Body                string
	CallDisposition     string
	CallDurationSeconds int
	OccurredAt          string
}

type createCallDocument struct {
	Data createCallData `json:"data"`
}

type createCallData struct {
	Type          string         `json:"type"`
	Attributes    CallAttributes `json:"attributes"`
	Relationships struct {
		Prospect Relationship `json:"prospect"`
	} `json:"relationships"`
}

type createdDocument struct {
	Data struct {
		Type string `json:"type"`
		ID   ID     `json:"id"`
	} `json:"data"`
}
