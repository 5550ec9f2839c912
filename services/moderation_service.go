package services

import (
	"net/url"
	"strings"

	"style-analysis/internal/status"
)

// ModerationService screens submissions before credits are touched. This is
// a cheap first gate; the vision provider applies its own content policy.
type ModerationService struct {
	blockedTerms []string
}

func NewModerationService() *ModerationService {
	return &ModerationService{
		blockedTerms: []string{
			"nsfw", "nude", "gore", "csam",
		},
	}
}

// CheckSubmission validates the image URL and screens the prompt.
func (s *ModerationService) CheckSubmission(imageURL, prompt string) error {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return status.ErrModerationRejected
	}

	lowered := strings.ToLower(prompt)
	for _, term := range s.blockedTerms {
		if strings.Contains(lowered, term) {
			return status.ErrModerationRejected
		}
	}
	return nil
}
