package coordinator

import (
	"crypto/rand"
	"fmt"
	"regexp"

	"github.com/mcdev12/classpoll/go/internal/apperrors"
)

const (
	minTitleLen    = 3
	maxTitleLen    = 100
	minQuestionLen = 5
	maxQuestionLen = 500
	minOptions     = 2
	maxOptions     = 6
	maxOptionLen   = 100
	minTimeLimit   = 10
	maxTimeLimit   = 300
	minNameLen     = 2
	maxNameLen     = 50
)

var studentNameRE = regexp.MustCompile(`^[a-zA-Z0-9 ]+$`)

func validateTitle(title string) error {
	if len(title) < minTitleLen || len(title) > maxTitleLen {
		return apperrors.New(apperrors.CodeInvalidInput,
			apperrors.WithMessagef("poll title must be between %d and %d characters", minTitleLen, maxTitleLen))
	}
	return nil
}

func validateQuestion(text string, options []string, timeLimitSec int) error {
	if len(text) < minQuestionLen || len(text) > maxQuestionLen {
		return apperrors.New(apperrors.CodeInvalidInput,
			apperrors.WithMessagef("question text must be between %d and %d characters", minQuestionLen, maxQuestionLen))
	}
	if len(options) < minOptions || len(options) > maxOptions {
		return apperrors.New(apperrors.CodeInvalidInput,
			apperrors.WithMessagef("questions need between %d and %d options", minOptions, maxOptions))
	}
	for _, opt := range options {
		if len(opt) < 1 || len(opt) > maxOptionLen {
			return apperrors.New(apperrors.CodeInvalidInput,
				apperrors.WithMessagef("options must be between 1 and %d characters", maxOptionLen))
		}
	}
	if timeLimitSec < minTimeLimit || timeLimitSec > maxTimeLimit {
		return apperrors.New(apperrors.CodeInvalidInput,
			apperrors.WithMessagef("time limit must be between %d and %d seconds", minTimeLimit, maxTimeLimit))
	}
	return nil
}

func validateStudentName(name string) error {
	if len(name) < minNameLen || len(name) > maxNameLen || !studentNameRE.MatchString(name) {
		return apperrors.New(apperrors.CodeInvalidInput,
			apperrors.WithMessagef("display name must be %d-%d letters, digits or spaces", minNameLen, maxNameLen))
	}
	return nil
}

const (
	joinCodeAlphabet = "1234567890ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	joinCodeLength   = 6
)

// newJoinCode generates a short, student-typable poll identifier.
func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = joinCodeAlphabet[int(buf[i])%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}
