package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/nlp"
	"github.com/contextmem/contextmem/pkg/types"
)

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MinEntityConfidence:    0.3,
		ConfirmationBoost:      0.1,
		GraphBoost:             0.1,
		ConsensusJaccard:       0.8,
		HighNameSimilarity:     0.9,
		PrecisionQualityFloor:  0.7,
		WordsPerExpectedEntity: 12,
		Quality: config.QualityWeights{
			ValidationLevel: 0.25,
			Confidence:      0.3,
			NameQuality:     0.2,
			TypeSpecificity: 0.15,
			Verification:    0.1,
		},
	}
}

func findEntity(result *types.ExtractionResult, name string) *types.ExtractedEntity {
	for _, e := range result.Entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func TestTemplateExtractorPatterns(t *testing.T) {
	te := NewTemplateExtractor()

	candidates := te.Extract("Dr. Anna Schmidt arbeitet bei SAP GmbH in Walldorf und nutzt Kubernetes.")

	names := make(map[string]types.EntityType)
	for _, c := range candidates {
		names[c.Name] = c.Type
		assert.Equal(t, types.TemplateConfirmed, c.ValidationLevel)
		assert.Equal(t, 1, c.VerificationCount)
	}
	assert.Equal(t, types.EntityTypePerson, names["Anna Schmidt"])
	assert.Equal(t, types.EntityTypeOrganization, names["SAP GmbH"])
	assert.Equal(t, types.EntityTypeLocation, names["Walldorf"])
	assert.Equal(t, types.EntityTypeTechnology, names["Kubernetes"])
}

func TestTemplateExtractorWholeWordOnly(t *testing.T) {
	te := NewTemplateExtractor()
	candidates := te.Extract("The berliner pastry is not a city.")
	for _, c := range candidates {
		assert.NotEqual(t, "Berlin", c.Name)
	}
}

func TestPipelineEmptyInput(t *testing.T) {
	p := NewPipeline(nlp.NewMockClient(), nil, pipelineConfig(), config.ModelConfig{}, nil)

	result := p.ExtractKnowledge(context.Background(), "   \n\t ")

	assert.Empty(t, result.Entities)
	assert.Empty(t, result.Relations)
	assert.Empty(t, result.Facts)
	assert.Empty(t, result.StagesCompleted, "no stage runs on empty input")
	assert.Zero(t, result.OverallConfidence)
}

func TestPipelineFullRun(t *testing.T) {
	llmResponse := `{
		"entities": [
			{"name": "Anna Schmidt", "type": "person", "confidence": 0.9, "context": "works at SAP", "reasoning": "named person"},
			{"name": "SAP GmbH", "type": "organization", "confidence": 0.85, "context": "employer", "reasoning": "legal suffix"},
			{"name": "migration project", "type": "process", "confidence": 0.6, "context": "the migration project", "reasoning": "ongoing work"}
		],
		"reasoning": "three entities"
	}`
	client := nlp.NewMockClient(llmResponse)
	p := NewPipeline(client, nil, pipelineConfig(), config.ModelConfig{}, nil)

	result := p.ExtractKnowledge(context.Background(),
		"Frau Anna Schmidt works at SAP GmbH on the migration project.")

	assert.Equal(t, []string{StageTemplate, StageLLM, StageConsensus}, result.StagesCompleted)
	assert.Empty(t, result.Warnings)

	anna := findEntity(result, "Anna Schmidt")
	require.NotNil(t, anna)
	assert.Equal(t, types.CrossValidated, anna.ValidationLevel,
		"template and collaborator agreement cross-validates")
	assert.InDelta(t, 1.0, anna.Confidence, 1e-9, "0.9 plus confirmation boost, clamped")

	project := findEntity(result, "migration project")
	require.NotNil(t, project)
	assert.Equal(t, types.LLMConfirmed, project.ValidationLevel)

	assert.NotEmpty(t, result.Relations, "co-occurring entities relate")
	for _, r := range result.Relations {
		assert.Equal(t, types.RelationGeneric, r.Type)
		assert.NotEmpty(t, r.SourceID)
		assert.NotEmpty(t, r.TargetID)
	}
	assert.NotEmpty(t, result.Facts)
	for _, f := range result.Facts {
		assert.NotEmpty(t, f.Evidence)
		assert.NotEmpty(t, f.EntityID)
	}

	assert.Greater(t, result.OverallConfidence, 0.0)
	assert.Greater(t, result.F1Estimate, 0.0)
	assert.LessOrEqual(t, result.PrecisionEstimate, 1.0)
	assert.LessOrEqual(t, result.RecallEstimate, 1.0)
}

func TestPipelineDegradesWhenLLMFails(t *testing.T) {
	client := nlp.NewMockClient().FailWith(
		types.NewCollaboratorError("completion", errors.New("endpoint down")))
	p := NewPipeline(client, nil, pipelineConfig(), config.ModelConfig{}, nil)

	result := p.ExtractKnowledge(context.Background(),
		"Dr. Anna Schmidt arbeitet bei SAP GmbH.")

	assert.Equal(t, []string{StageTemplate, StageConsensus}, result.StagesCompleted)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "llm stage degraded")

	// Template findings survive the degraded turn.
	assert.NotNil(t, findEntity(result, "Anna Schmidt"))
	assert.NotNil(t, findEntity(result, "SAP GmbH"))
}

func TestPipelineDegradesOnMalformedResponse(t *testing.T) {
	client := nlp.NewMockClient("I could not find any JSON to give you, sorry!")
	p := NewPipeline(client, nil, pipelineConfig(), config.ModelConfig{}, nil)

	result := p.ExtractKnowledge(context.Background(), "Dr. Anna Schmidt arbeitet hier.")

	require.Len(t, result.Warnings, 1)
	assert.NotNil(t, findEntity(result, "Anna Schmidt"))
	assert.NotContains(t, result.StagesCompleted, StageLLM)
}

func TestLLMConfidenceFloor(t *testing.T) {
	llmResponse := `{
		"entities": [
			{"name": "something vague", "type": "concept", "confidence": 0.1},
			{"name": "PostgreSQL", "type": "technology", "confidence": 0.95}
		]
	}`
	client := nlp.NewMockClient(llmResponse)
	p := NewPipeline(client, nil, pipelineConfig(), config.ModelConfig{}, nil)

	result := p.ExtractKnowledge(context.Background(), "We moved everything to PostgreSQL last week.")

	assert.Nil(t, findEntity(result, "something vague"), "below-floor candidates are dropped")
	assert.NotNil(t, findEntity(result, "PostgreSQL"))
}

func TestConsensusMergesNameVariants(t *testing.T) {
	llmResponse := `{
		"entities": [
			{"name": "Schmidt, Anna", "type": "person", "confidence": 0.9}
		]
	}`
	client := nlp.NewMockClient(llmResponse)
	p := NewPipeline(client, nil, pipelineConfig(), config.ModelConfig{}, nil)

	result := p.ExtractKnowledge(context.Background(), "Dr. Anna Schmidt leads the migration.")

	var persons []*types.ExtractedEntity
	for _, e := range result.Entities {
		if e.Type == types.EntityTypePerson {
			persons = append(persons, e)
		}
	}
	require.Len(t, persons, 1, "name variants of one person merge")
	assert.NotEmpty(t, persons[0].Aliases)
	assert.Equal(t, types.CrossValidated, persons[0].ValidationLevel)
}

func TestConsensusMergeIsOrderIndependent(t *testing.T) {
	cfg := pipelineConfig()
	m := newConsensusMerger(cfg)

	build := func() []*types.ExtractedEntity {
		a := &types.ExtractedEntity{Entity: types.Entity{
			Name: "Anna Schmidt", CanonicalName: "anna schmidt",
			Type: types.EntityTypePerson, Confidence: 0.7,
		}}
		b := &types.ExtractedEntity{Entity: types.Entity{
			Name: "Schmidt Anna", CanonicalName: "schmidt anna",
			Type: types.EntityTypePerson, Confidence: 0.9,
		}}
		return []*types.ExtractedEntity{a, b}
	}

	forward := m.Merge(build())
	reversedInput := build()
	reversedInput[0], reversedInput[1] = reversedInput[1], reversedInput[0]
	backward := m.Merge(reversedInput)

	require.Len(t, forward, 1)
	require.Len(t, backward, 1)
	assert.Equal(t, forward[0].Name, backward[0].Name)
	assert.InDelta(t, forward[0].Confidence, backward[0].Confidence, 1e-9)
}

func TestQualityScoreBounds(t *testing.T) {
	scorer := newQualityScorer(pipelineConfig())

	perfect := &types.ExtractedEntity{
		Entity: types.Entity{
			Name: "Anna-Katharina Schmidt", Type: types.EntityTypePerson, Confidence: 1.0,
		},
		ValidationLevel:   types.CrossValidated,
		VerificationCount: 5,
	}
	weak := &types.ExtractedEntity{
		Entity: types.Entity{
			Name: "x1", Type: types.EntityTypeUnknown, Confidence: 0.3,
		},
	}

	high := scorer.Score(perfect)
	low := scorer.Score(weak)
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, 1.0)
	assert.GreaterOrEqual(t, low, 0.0)
}

func TestEstimateRecallScalesWithLength(t *testing.T) {
	scorer := newQualityScorer(pipelineConfig())

	short := types.EmptyExtractionResult()
	short.Entities = []*types.ExtractedEntity{{Entity: types.Entity{Name: "Anna", Confidence: 0.8}}}
	scorer.Estimate(short, 10)
	assert.InDelta(t, 1.0, short.RecallEstimate, 1e-9, "one entity covers a ten-word text")

	long := types.EmptyExtractionResult()
	long.Entities = []*types.ExtractedEntity{{Entity: types.Entity{Name: "Anna", Confidence: 0.8}}}
	scorer.Estimate(long, 120)
	assert.InDelta(t, 0.1, long.RecallEstimate, 1e-9, "a 120-word text should yield about ten entities")
}
