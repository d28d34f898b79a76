package service

import "regexp"

// PlaylistName is the manifest file served for every (bridge, camera) pair.
const PlaylistName = "playlist.m3u8"

var (
	identifierRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
	segmentNameRe  = regexp.MustCompile(`^segment_\d+\.ts$`)
	manifestNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+\.m3u8$`)
)

// ValidIdentifier reports whether s is safe as a single storage path component.
func ValidIdentifier(s string) bool { return identifierRe.MatchString(s) }

// ValidSegmentName matches segment_<digits>.ts.
func ValidSegmentName(s string) bool { return segmentNameRe.MatchString(s) }

// ValidManifestName matches <name>.m3u8 without path separators.
func ValidManifestName(s string) bool { return manifestNameRe.MatchString(s) }
