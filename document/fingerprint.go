// Copyright 2026 The ESTCORP authors
//   This file is part of ESTCORP.
//
//  ESTCORP is free software: you can redistribute it and/or modify
//  it under the terms of the GNU General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  ESTCORP is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU General Public License for more details.
//
//  You should have received a copy of the GNU General Public License
//  along with ESTCORP.  If not, see <https://www.gnu.org/licenses/>.

package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SentenceFingerprint returns a hex encoded sha256 of the sentence words.
// The words are hashed in their JSON array form so that word boundaries
// take part in the fingerprint (["ab", "c"] differs from ["a", "bc"]).
func SentenceFingerprint(words []string) string {
	data, err := jsonAPI.Marshal(words)
	if err != nil {
		// a []string is always encodable
		panic(fmt.Sprintf("failed to encode sentence words: %s", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SentenceFingerprints returns fingerprints of all the sentences
// of the document in the order of the sentence layer.
func SentenceFingerprints(doc *Document) ([]string, error) {
	sents, err := doc.Enveloped(LayerSentences, LayerWords)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate sentence fingerprints: %w", err)
	}
	ans := make([]string, len(sents))
	for i, words := range sents {
		ans[i] = SentenceFingerprint(words)
	}
	return ans, nil
}

// AddSentenceHashes stores sentence fingerprints as the HashAttr
// attribute of the sentence layer.
func AddSentenceHashes(doc *Document) error {
	hashes, err := SentenceFingerprints(doc)
	if err != nil {
		return err
	}
	sl := doc.Layer(LayerSentences)
	if !sl.HasAttribute(HashAttr) {
		sl.Attributes = append(sl.Attributes, HashAttr)
	}
	for i, sp := range sl.Spans {
		if len(sp.Annotations) == 0 {
			sl.Spans[i].Annotations = []Annotation{{}}
		}
		for _, ann := range sl.Spans[i].Annotations {
			ann[HashAttr] = hashes[i]
		}
	}
	return nil
}
