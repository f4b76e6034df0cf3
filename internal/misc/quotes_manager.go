package misc

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"

	log "github.com/sirupsen/logrus"
)

// QuoteCategory buckets motivational quotes by where the app surfaces them,
// e.g. "motivation" on session start, "recovery" on rest days.
type QuoteCategory string

// Quote is one motivational line shown to users around their workouts.
type Quote struct {
	Text     string        `json:"text"`
	Author   string        `json:"author"`
	Category QuoteCategory `json:"category"`
}

// QuotesManager holds the quotes loaded at startup, indexed by category so
// the handler can serve a fitting one per surface.
type QuotesManager struct {
	Quotes         []*Quote
	CategoryQuotes map[QuoteCategory][]*Quote
}

// NewQuoteManager loads quotes from a semicolon separated CSV with rows of
// the form TEXT;AUTHOR;CATEGORY.
func NewQuoteManager(quotesCsvReader *csv.Reader) (*QuotesManager, error) {
	qm := &QuotesManager{
		CategoryQuotes: map[QuoteCategory][]*Quote{},
	}

	quotesCsvReader.Comma = ';'
	for {
		record, err := quotesCsvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != 3 {
			return nil, fmt.Errorf("quote record %q: want TEXT;AUTHOR;CATEGORY", record)
		}

		q := &Quote{
			Text:     record[0],
			Author:   record[1],
			Category: QuoteCategory(record[2]),
		}
		if q.Author == "" {
			q.Author = "Unknown"
		}

		qm.Quotes = append(qm.Quotes, q)
		qm.CategoryQuotes[q.Category] = append(qm.CategoryQuotes[q.Category], q)
	}

	log.Debugf("loaded %d motivational quotes in %d categories", len(qm.Quotes), len(qm.CategoryQuotes))

	return qm, nil
}

// RandomQuote returns any loaded quote, or nil when none are loaded.
func (qm *QuotesManager) RandomQuote() *Quote {
	if len(qm.Quotes) == 0 {
		return nil
	}
	return qm.Quotes[rand.Intn(len(qm.Quotes))]
}

// RandomQuoteInCategory returns a quote from the given category, or nil
// when the category is empty.
func (qm *QuotesManager) RandomQuoteInCategory(category QuoteCategory) *Quote {
	quotes := qm.CategoryQuotes[category]
	if len(quotes) == 0 {
		return nil
	}
	return quotes[rand.Intn(len(quotes))]
}
