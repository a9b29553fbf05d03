// Package vocab builds the immutable vocabulary used for
// embedding training: dense word indices, Huffman codes
// for hierarchical softmax, and the unigram table used to
// draw negative samples.
package vocab

import (
	"sort"
	"strings"
)

// A VocabWord is a single vocabulary entry.
//
// Codes and Points describe the word's path from the root
// of the Huffman tree: Codes[k] is the branch taken at the
// internal node Points[k].
// Both slices have the same length.
type VocabWord struct {
	Word      string
	Index     int
	Frequency int64
	Codes     []int8
	Points    []int
}

// CodeLength returns the depth of the word in the Huffman
// tree.
func (v *VocabWord) CodeLength() int {
	return len(v.Codes)
}

// A Vocab maps words to dense indices.
//
// Indices are assigned once, by descending frequency, and
// never change afterwards.
type Vocab struct {
	words      []*VocabWord
	byWord     map[string]*VocabWord
	totalWords int64
}

// Build creates a Vocab from word counts, dropping words
// that occur fewer than minCount times.
func Build(counts map[string]int64, minCount int64) *Vocab {
	var words []*VocabWord
	for word, count := range counts {
		if count < minCount || count <= 0 {
			continue
		}
		words = append(words, &VocabWord{Word: word, Frequency: count})
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].Frequency != words[j].Frequency {
			return words[i].Frequency > words[j].Frequency
		}
		return words[i].Word < words[j].Word
	})

	v := &Vocab{
		words:  words,
		byWord: make(map[string]*VocabWord, len(words)),
	}
	for i, w := range words {
		w.Index = i
		v.byWord[w.Word] = w
		v.totalWords += w.Frequency
	}
	buildHuffman(words)
	return v
}

// Count tallies the tokens of tokenized sentences.
func Count(sentences [][]string) map[string]int64 {
	res := map[string]int64{}
	for _, sentence := range sentences {
		for _, token := range sentence {
			res[token]++
		}
	}
	return res
}

// Len returns the number of words.
func (v *Vocab) Len() int {
	return len(v.words)
}

// TotalWords returns the summed frequency of every word.
func (v *Vocab) TotalWords() int64 {
	return v.totalWords
}

// Word returns the word with the given index.
func (v *Vocab) Word(index int) *VocabWord {
	return v.words[index]
}

// Lookup finds a word, or returns nil.
func (v *Vocab) Lookup(word string) *VocabWord {
	return v.byWord[word]
}

// Words returns every word in index order.
func (v *Vocab) Words() []*VocabWord {
	return append([]*VocabWord{}, v.words...)
}

// Sentence maps tokens to vocabulary words, dropping the
// ones that are not in the vocabulary.
func (v *Vocab) Sentence(tokens []string) []*VocabWord {
	res := make([]*VocabWord, 0, len(tokens))
	for _, token := range tokens {
		if w := v.byWord[token]; w != nil {
			res = append(res, w)
		}
	}
	return res
}

// Sentences maps every tokenized sentence with Sentence,
// skipping sentences that end up empty.
func (v *Vocab) Sentences(tokenized [][]string) [][]*VocabWord {
	var res [][]*VocabWord
	for _, tokens := range tokenized {
		if s := v.Sentence(tokens); len(s) > 0 {
			res = append(res, s)
		}
	}
	return res
}

// Tokenize splits text into one sentence per line and
// whitespace-separated tokens within a line.
func Tokenize(text string) [][]string {
	var res [][]string
	for _, line := range strings.Split(text, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			res = append(res, fields)
		}
	}
	return res
}
