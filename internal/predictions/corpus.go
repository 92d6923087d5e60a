// Package predictions holds the static prediction corpus and the random
// draw over it.
package predictions

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
)

// Picker issues one prediction text. Implemented by Corpus; tests swap
// in a deterministic picker.
type Picker interface {
	Pick() string
}

// Corpus is an immutable list of prediction texts, loaded once at startup.
type Corpus struct {
	items []string
}

var defaultPredictions = []string{
	"Сегодня вас ждет приятная неожиданность!",
	"Впереди вас ждет успех в делах.",
	"Будьте внимательны к знакам судьбы сегодня.",
	"Встреча с важным человеком изменит вашу жизнь.",
	"Не бойтесь принимать важные решения.",
	"Ваши мечты скоро станут реальностью.",
	"Сегодняшний день принесет вам удачу.",
	"Вас ждет интересное предложение.",
	"Не упустите шанс, который представится сегодня.",
	"Ваши усилия скоро будут вознаграждены.",
}

// Load reads a JSON array of strings from path. An empty path returns
// the built-in corpus.
func Load(path string) (*Corpus, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predictions file: %w", err)
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse predictions file: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("predictions file %s contains no predictions", path)
	}

	return &Corpus{items: items}, nil
}

func Default() *Corpus {
	return &Corpus{items: defaultPredictions}
}

// Pick returns a uniformly random prediction.
func (c *Corpus) Pick() string {
	return c.items[rand.IntN(len(c.items))]
}

func (c *Corpus) Len() int {
	return len(c.items)
}
