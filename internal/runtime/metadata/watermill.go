package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies the headers of a transport message.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies headers onto a transport message's metadata.
func ToWatermill(metadata Metadata) message.Metadata {
	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}
