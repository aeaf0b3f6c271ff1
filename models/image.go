package models

import "strings"

// SplitImageRef splits an image reference into repository and tag.
// Registry ports ("host:5000/app") are not mistaken for tags and a digest
// suffix is dropped.
func SplitImageRef(imageRef string) (repository, tag string) {
	ref := imageRef
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}

	lastSlash := strings.LastIndex(ref, "/")
	lastColon := strings.LastIndex(ref, ":")
	if lastColon > lastSlash {
		return ref[:lastColon], ref[lastColon+1:]
	}
	return ref, ""
}

// WithImageTag returns imageRef pointing at tag
func WithImageTag(imageRef, tag string) string {
	repository, _ := SplitImageRef(imageRef)
	return repository + ":" + tag
}
