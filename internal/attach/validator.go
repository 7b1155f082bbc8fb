// Package attach classifies inbound message attachments.
//
// The outcome is a tagged value rather than an error chain because every
// caller branches on it immediately: no attachment, exactly one usable
// image, or a user-correctable mistake.
package attach

import "errors"

var (
	// ErrTooManyAttachments indicates the message carried more than one attachment.
	ErrTooManyAttachments = errors.New("too many attachments in the message")
	// ErrInvalidAttachmentType indicates the single attachment is not a photo.
	ErrInvalidAttachmentType = errors.New("an image attachment was expected")
)

// PhotoSize is one rendition of an uploaded photo.
type PhotoSize struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Photo is the photo media kind with its available renditions.
type Photo struct {
	Sizes []PhotoSize `json:"sizes"`
}

// Attachment is a single raw attachment entry; only the photo kind is usable.
type Attachment struct {
	Type  string `json:"type"`
	Photo *Photo `json:"photo,omitempty"`
}

// proportionalCopyType marks the standard proportional rendition bounded
// to a 604px max side in the VK size descriptor scheme.
const proportionalCopyType = "x"

// Classify inspects the raw attachment list and returns the URL of the single
// qualifying screenshot rendition. An empty list yields an empty URL and no
// error. A photo without a matching rendition also yields no screenshot.
func Classify(attachments []Attachment) (string, error) {
	if len(attachments) == 0 {
		return "", nil
	}
	if len(attachments) > 1 {
		return "", ErrTooManyAttachments
	}
	photo := attachments[0].Photo
	if photo == nil {
		return "", ErrInvalidAttachmentType
	}
	for _, size := range photo.Sizes {
		if size.Type == proportionalCopyType {
			return size.URL, nil
		}
	}
	return "", nil
}
