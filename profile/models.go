package profile

import "time"

// Profile is the public view of a member with its success metrics.
type Profile struct {
	ID                  string    `json:"id"`
	DisplayName         string    `json:"displayName"`
	ExternalID          string    `json:"externalId"`
	SuccessfulExchanges int       `json:"successfulExchanges"`
	DisputesHandled     int       `json:"disputesHandled,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}
