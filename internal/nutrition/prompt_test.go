package nutrition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderAnalysisPrompt_ContainsLabels(t *testing.T) {
	goals := []string{"lose weight", "x", "gain muscle; eat \"clean\"", "減量", "{{.Goal}} %s %d"}
	for _, goal := range goals {
		prompt := RenderAnalysisPrompt(goal)
		assert.Contains(t, prompt, MealNameLabel)
		assert.Contains(t, prompt, MealSummaryLabel)
		assert.Contains(t, prompt, goal, "goal is interpolated verbatim")
		assert.Contains(t, prompt, NoFoodDetected)
	}
}

// A response written in the shape the analysis prompt asks for must parse.
func TestAnalysisPromptParserContract(t *testing.T) {
	prompt := RenderAnalysisPrompt("eat more protein")

	var response strings.Builder
	for _, line := range strings.Split(prompt, "\n") {
		switch {
		case strings.HasPrefix(line, MealNameLabel):
			response.WriteString(MealNameLabel + " Paneer Tikka\n")
		case strings.HasPrefix(line, MealSummaryLabel):
			response.WriteString(MealSummaryLabel + "\n- 420 kcal total\n")
		}
	}

	got, ok := ParseAnalysis(response.String())
	require.True(t, ok, "response %q", response.String())
	assert.Equal(t, "Paneer Tikka", got.MealName)
	assert.Equal(t, "- 420 kcal total", got.MealSummary)

	_, ok = ParseAnalysis(NoFoodDetected)
	assert.False(t, ok, "the no-food short circuit must not parse")
}

func TestDerivativePrompts_IncludeGoalAndDump(t *testing.T) {
	dump := "Oatmeal: 300 kcal\nSalad: 150 kcal"
	renders := map[string]string{
		"summary": RenderDailySummaryPrompt("stay fit", dump),
		"gap":     RenderGapFillingPrompt("stay fit", dump),
		"gut":     RenderGutHealthPrompt("stay fit", dump),
		"menu":    RenderMenuRankingPrompt("stay fit", "vegetarian", dump),
		"home":    RenderHomeDishesPrompt("stay fit", "vegetarian", dump, []string{"Oatmeal", "Salad"}),
	}
	for name, prompt := range renders {
		assert.Contains(t, prompt, "stay fit", name)
		assert.Contains(t, prompt, dump, name)
	}
	assert.Contains(t, renders["menu"], "vegetarian")
	assert.Contains(t, renders["gut"], "ayurved")
}

func TestRenderHomeDishesPrompt_Exclusions(t *testing.T) {
	with := RenderHomeDishesPrompt("goal", "vegan", "Oatmeal: s", []string{"Oatmeal", "Toast"})
	assert.Contains(t, with, "already eaten today: Oatmeal, Toast.")

	without := RenderHomeDishesPrompt("goal", "vegan", "", nil)
	assert.NotContains(t, without, "already eaten")
	assert.NotContains(t, without, "Meals eaten today")
}
