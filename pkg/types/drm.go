package types

import "strings"

// DrmSystem identifies a content-protection system by its PSSH system ID.
type DrmSystem string

const (
	DrmWidevine  DrmSystem = "widevine"
	DrmFairPlay  DrmSystem = "fairplay"
	DrmPlayReady DrmSystem = "playready"
	DrmClearKey  DrmSystem = "clearkey"
)

// drmSystemIDs maps each DRM system to its PSSH system ID UUID (lower case).
var drmSystemIDs = map[DrmSystem]string{
	DrmWidevine:  "edef8ba9-79d6-4ace-a3c8-27dcd51d21ed",
	DrmFairPlay:  "94ce86fb-07ff-4f43-adb8-93d2fa968ca2",
	DrmPlayReady: "9a04f079-9840-4286-ab92-e65be0885f95",
	DrmClearKey:  "1077efec-c0b2-4d02-ace3-3c1e52e2fb4b",
}

// SystemID returns the PSSH system ID UUID for d.
func (d DrmSystem) SystemID() string {
	return drmSystemIDs[d]
}

// DrmSystemFromID resolves a PSSH system ID UUID to a known DrmSystem.
func DrmSystemFromID(systemID string) (DrmSystem, bool) {
	id := strings.ToLower(systemID)
	for system, known := range drmSystemIDs {
		if known == id {
			return system, true
		}
	}
	return "", false
}

// DrmSessionState tracks a license acquisition lifecycle.
type DrmSessionState int

const (
	DrmIdle DrmSessionState = iota
	DrmAwaitingCertificate
	DrmGeneratingChallenge
	DrmAwaitingLicense
	DrmReady
	DrmExpired
	DrmError
)
