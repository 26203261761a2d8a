package validation

import (
	"fmt"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateGameID validates game ID format
func ValidateGameID(id string) error {
	if len(id) == 0 || len(id) > 64 {
		return fmt.Errorf("game ID must be 1-64 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("game ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateRoomID validates chat room ID format
func ValidateRoomID(id string) error {
	if len(id) == 0 || len(id) > 128 {
		return fmt.Errorf("room ID must be 1-128 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("room ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateConversationID validates conversation ID format
func ValidateConversationID(id string) error {
	if len(id) == 0 || len(id) > 128 {
		return fmt.Errorf("conversation ID must be 1-128 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("conversation ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateDay validates a schedule day number
func ValidateDay(day int) error {
	if day < 1 || day > 5 {
		return fmt.Errorf("day must be between 1 and 5")
	}
	return nil
}

// ValidateStep validates a timeline step index
func ValidateStep(step int) error {
	if step < 0 || step > 64 {
		return fmt.Errorf("step must be between 0 and 64")
	}
	return nil
}
