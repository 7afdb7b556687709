package model

import "time"

// Link is a shortened URL owned by a device
type Link struct {
	OriginalURL string     `json:"originalUrl" bson:"originalUrl"`
	ShortID     string     `json:"shortId" bson:"shortId"`
	MachineID   string     `json:"machineId" bson:"machineId"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	VisitCount  int64      `json:"visitCount" bson:"visitCount"`
	LastVisited *time.Time `json:"lastVisited,omitempty" bson:"lastVisited,omitempty"`
}

// CreateLinkRequest is the body of POST /api/urls
type CreateLinkRequest struct {
	OriginalURL string `json:"originalUrl" validate:"required"`
	MachineID   string `json:"machineId" validate:"required"`
}

// LinkResponse wraps a single link
type LinkResponse struct {
	URL *Link `json:"url"`
}

// LinkListResponse wraps a device's links
type LinkListResponse struct {
	URLs []Link `json:"urls"`
}

// NewLinkListResponse never serializes a nil slice as null.
func NewLinkListResponse(links []Link) LinkListResponse {
	if links == nil {
		links = []Link{}
	}
	return LinkListResponse{URLs: links}
}

// LinkStats is what the stats page renders
type LinkStats struct {
	Link        Link
	ShortURL    string
	Created     string // "3 minutes ago"
	LastVisited string // "Never" until the first visit
}
