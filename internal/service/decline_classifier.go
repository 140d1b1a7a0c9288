package service

import "strings"

// Decline codes a user can fix by resubmitting: capture quality and face
// detection problems. Both the descriptive names and the provider's own
// SPDR/SPFR codes are accepted.
var retryEligibleCodes = []string{
	"blurry_document",
	"blurry",
	"poor_quality",
	"poor_image_quality",
	"tampered",
	"tampered_document",
	"photocopy",
	"screenshot",
	"photoshopped",
	"digitally_altered",
	"glare",
	"face_not_visible",
	"face_blurry",
	"face_not_detected",
	"poor_lighting",

	"spdr03",  // photoshopped/tampered document
	"spdr04",  // photocopy
	"spdr05",  // screenshot
	"spdr06",  // document image not clear
	"spdr07",  // document not fully visible
	"spdr08",  // blurry image
	"spdr19",  // poor lighting
	"spdr48",  // digitally altered
	"spdr89",  // glare on document
	"spdr278", // document quality too low
	"spfr01",  // face not visible
	"spfr02",  // face image blurry
	"spfr03",  // face not detected
}

// Substantive mismatches. Any of these in a decline blocks the retry even
// when a quality code is also present.
var mismatchCodes = []string{
	"name_mismatch",
	"dob_mismatch",
	"date_of_birth_mismatch",
	"face_mismatch",
	"spdr01", // name mismatch
	"spdr02", // date of birth mismatch
	"spdr15", // face on document does not match camera image
	"spfr10", // face mismatch
}

// DeclineClassifier is a fixed lookup. Unknown codes are never eligible.
type DeclineClassifier struct {
	eligible map[string]struct{}
	mismatch map[string]struct{}
}

func NewDeclineClassifier() *DeclineClassifier {
	c := &DeclineClassifier{
		eligible: make(map[string]struct{}, len(retryEligibleCodes)),
		mismatch: make(map[string]struct{}, len(mismatchCodes)),
	}
	for _, code := range retryEligibleCodes {
		c.eligible[code] = struct{}{}
	}
	for _, code := range mismatchCodes {
		c.mismatch[code] = struct{}{}
	}
	return c
}

// IsRetryEligible classifies one reason code.
func (c *DeclineClassifier) IsRetryEligible(code string) bool {
	_, ok := c.eligible[normalizeCode(code)]
	return ok
}

// Classify decides a whole decline: at least one eligible code and no mismatch.
func (c *DeclineClassifier) Classify(codes []string) bool {
	eligible := false
	for _, code := range codes {
		n := normalizeCode(code)
		if _, bad := c.mismatch[n]; bad {
			return false
		}
		if _, ok := c.eligible[n]; ok {
			eligible = true
		}
	}
	return eligible
}

func normalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(code)
}
