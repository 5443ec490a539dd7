package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StopWords is an immutable set of normalized words ignored by keyword extraction
type StopWords map[string]struct{}

func (sw StopWords) Contains(word string) bool {
	_, ok := sw[word]
	return ok
}

// NewStopWords normalizes every word before adding it
func NewStopWords(words ...[]string) StopWords {
	sw := make(StopWords)
	for _, list := range words {
		for _, w := range list {
			if n := Normalize(w); n != "" {
				sw[n] = struct{}{}
			}
		}
	}
	return sw
}

var englishStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "been", "but", "by", "can", "do", "does",
	"for", "from", "has", "have", "he", "her", "his", "how", "i", "if", "in", "into", "is",
	"it", "its", "of", "on", "or", "our", "she", "so", "than", "that", "the", "their",
	"them", "then", "there", "these", "they", "this", "those", "to", "was", "we", "were",
	"what", "when", "where", "which", "who", "why", "will", "with", "you", "your",
}

var portugueseStopWords = []string{
	"a", "ao", "aos", "as", "com", "como", "da", "das", "de", "do", "dos", "e", "ela",
	"ele", "em", "entre", "era", "essa", "esse", "esta", "este", "eu", "foi", "ha", "isso",
	"isto", "ja", "mais", "mas", "na", "nas", "nao", "no", "nos", "o", "os", "ou", "para",
	"pela", "pelo", "por", "quando", "que", "se", "sem", "ser", "seu", "sua", "sao", "tambem",
	"um", "uma", "voce",
}

// DefaultStopWords is the built-in bilingual (English + Portuguese) set
func DefaultStopWords() StopWords {
	return NewStopWords(englishStopWords, portugueseStopWords)
}

type stopWordsFile struct {
	// Replace drops the built-in set instead of extending it
	Replace   bool                `yaml:"replace"`
	Languages map[string][]string `yaml:"languages"`
}

// LoadStopWords reads a YAML stop-word file; an empty path yields the default set
func LoadStopWords(path string) (StopWords, error) {
	if path == "" {
		return DefaultStopWords(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stop words file '%s': %w", path, err)
	}
	return ParseStopWords(data)
}

func ParseStopWords(data []byte) (StopWords, error) {
	var f stopWordsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stop words: %w", err)
	}
	lists := make([][]string, 0, len(f.Languages)+2)
	if !f.Replace {
		lists = append(lists, englishStopWords, portugueseStopWords)
	}
	for _, words := range f.Languages {
		lists = append(lists, words)
	}
	return NewStopWords(lists...), nil
}
