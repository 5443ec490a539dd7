package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Level is the difficulty of a question
type Level int

const (
	LevelBasic Level = iota + 1
	LevelIntermediate
	LevelAdvanced
	LevelExpert
)

var levelNames = map[Level]string{
	LevelBasic:        "basic",
	LevelIntermediate: "intermediate",
	LevelAdvanced:     "advanced",
	LevelExpert:       "expert",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel accepts a level name (any case) or its numeric value
func ParseLevel(token string) (Level, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if n, err := strconv.Atoi(token); err == nil {
		if l := Level(n); l.Valid() {
			return l, nil
		}
		return 0, fmt.Errorf("level out of range: %d", n)
	}
	for l, name := range levelNames {
		if name == token {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", token)
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseLevel(fmt.Sprint(raw))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
