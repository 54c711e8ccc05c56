package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/mt"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// SourceLanguage is the language manifests are written in.
const SourceLanguage = "en"

// SuggestionService ranks candidate translations for manifest keys.
type SuggestionService interface {
	// GetSuggestions returns, per manifest key, candidate values ordered by
	// weight. The best candidate of a key has weight 1.
	GetSuggestions(ctx context.Context, manifest models.Manifest, language, target string, alreadyStored map[string]models.ActiveValue) (map[string][]models.Suggestion, error)
}

// SuggestionOptions tunes the suggestion service.
type SuggestionOptions struct {
	// SkipIfStored omits keys the bundle already holds.
	SkipIfStored bool
}

type suggestionService struct {
	scope          ScopeFunc
	suggestionRepo repositories.SuggestionRepository
	translator     mt.Translator
	opts           SuggestionOptions
	logger         *zap.Logger
}

// NewSuggestionService creates a new suggestion service. translator may be
// nil, in which case only learned suggestions are returned.
func NewSuggestionService(
	scope ScopeFunc,
	suggestionRepo repositories.SuggestionRepository,
	translator mt.Translator,
	opts SuggestionOptions,
	logger *zap.Logger,
) SuggestionService {
	return &suggestionService{
		scope:          scope,
		suggestionRepo: suggestionRepo,
		translator:     translator,
		opts:           opts,
		logger:         logger.Named("suggestion-service"),
	}
}

var _ SuggestionService = (*suggestionService)(nil)

// candidateSet accumulates weights per value in discovery order.
type candidateSet struct {
	values  []string
	weights map[string]float64
}

func (c *candidateSet) add(value string, weight float64) {
	if c.weights == nil {
		c.weights = make(map[string]float64)
	}
	if _, ok := c.weights[value]; !ok {
		c.values = append(c.values, value)
	}
	c.weights[value] += weight
}

// ranked normalizes by the maximum weight and sorts descending. Ties keep
// discovery order.
func (c *candidateSet) ranked() []models.Suggestion {
	out := make([]models.Suggestion, 0, len(c.values))
	var max float64
	for _, v := range c.values {
		if w := c.weights[v]; w > max {
			max = w
		}
	}
	if max <= 0 {
		return out
	}
	for _, v := range c.values {
		out = append(out, models.Suggestion{Value: v, Weight: c.weights[v] / max})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

func (s *suggestionService) GetSuggestions(ctx context.Context, manifest models.Manifest, language, target string, alreadyStored map[string]models.ActiveValue) (map[string][]models.Suggestion, error) {
	var keys []string
	for _, key := range manifest.Keys() {
		if s.opts.SkipIfStored {
			if _, ok := alreadyStored[key]; ok {
				continue
			}
		}
		keys = append(keys, key)
	}

	result := make(map[string][]models.Suggestion, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	keysByText := make(map[string][]string)
	var texts []string
	for _, key := range keys {
		text := manifest[key].SuggestionText()
		if _, ok := keysByText[text]; !ok {
			texts = append(texts, text)
		}
		keysByText[text] = append(keysByText[text], key)
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	candidates := make(map[string]*candidateSet, len(keys))
	for _, key := range keys {
		candidates[key] = &candidateSet{}
	}

	byKey, err := s.suggestionRepo.ListByKeys(ctx, keys, language, target)
	if err != nil {
		return nil, err
	}
	for _, ks := range byKey {
		if c, ok := candidates[ks.Key]; ok {
			c.add(ks.Value, float64(ks.Count))
		}
	}

	byText, err := s.suggestionRepo.ListBySourceTexts(ctx, texts, language, target)
	if err != nil {
		return nil, err
	}
	for _, vs := range byText {
		for _, key := range keysByText[vs.SourceText] {
			candidates[key].add(vs.Value, float64(vs.Count))
		}
	}

	for text, values := range s.machineTranslations(ctx, texts, language) {
		for _, key := range keysByText[text] {
			for _, sug := range values {
				candidates[key].add(sug.Value, sug.Weight)
			}
		}
	}

	for _, key := range keys {
		result[key] = candidates[key].ranked()
	}
	return result, nil
}

// machineTranslations asks the external translator for candidates. Failures
// are logged and yield no candidates.
func (s *suggestionService) machineTranslations(ctx context.Context, texts []string, language string) map[string][]models.Suggestion {
	if s.translator == nil {
		return nil
	}

	var nonEmpty []string
	for _, t := range texts {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}

	translated, err := s.translator.Translate(ctx, nonEmpty, SourceLanguage, language)
	if err != nil {
		s.logger.Warn("Machine translation unavailable",
			zap.String("language", language),
			zap.Int("texts", len(nonEmpty)),
			zap.Error(err))
		return nil
	}

	out := make(map[string][]models.Suggestion, len(translated))
	for text, values := range translated {
		list := make([]models.Suggestion, 0, len(values))
		for value, weight := range values {
			list = append(list, models.Suggestion{Value: value, Weight: weight})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Weight != list[j].Weight {
				return list[i].Weight > list[j].Weight
			}
			return list[i].Value < list[j].Value
		})
		out[text] = list
	}
	return out
}
