package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeclineClassifierSingleCodes(t *testing.T) {
	c := NewDeclineClassifier()

	tests := []struct {
		code string
		want bool
	}{
		{"blurry_document", true},
		{"photocopy", true},
		{"screenshot", true},
		{"tampered", true},
		{"face_not_visible", true},
		{"poor_lighting", true},
		{"Blurry Document", true},
		{"SPDR08", true},
		{"spfr02", true},
		{"name_mismatch", false},
		{"dob_mismatch", false},
		{"face_mismatch", false},
		{"SPDR01", false},
		{"SPFR10", false},
		{"SPDR15", false},
		{"something_new", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsRetryEligible(tt.code))
		})
	}
}

func TestDeclineClassifierClassify(t *testing.T) {
	c := NewDeclineClassifier()

	assert.True(t, c.Classify([]string{"SPDR08"}))
	assert.True(t, c.Classify([]string{"unknown_code", "photocopy"}))
	assert.False(t, c.Classify([]string{"photocopy", "name_mismatch"}), "a mismatch always blocks")
	assert.False(t, c.Classify([]string{"SPDR15", "SPDR08"}))
	assert.False(t, c.Classify([]string{"unknown_code"}))
	assert.False(t, c.Classify(nil))
}
