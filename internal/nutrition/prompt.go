package nutrition

import (
	"fmt"
	"strings"
)

// Labels shared by the analysis prompt and ParseAnalysis. Changing either one
// breaks the parser contract.
const (
	MealNameLabel    = "**Meal Name:**"
	MealSummaryLabel = "**Meal Summary:**"
)

// NoFoodDetected is the sentence the model is told to answer with when the
// image shows no food.
const NoFoodDetected = "No food items detected in the image."

// RenderAnalysisPrompt builds the per-image instruction. The goal is inserted
// verbatim.
func RenderAnalysisPrompt(goal string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert nutritionist analyzing the food items in the image.\n")
	fmt.Fprintf(&sb, "The user's goal for today is: %s\n\n", goal)
	sb.WriteString("Start by determining if the image contains food items.\n")
	fmt.Fprintf(&sb, "If the image does not contain any food items, clearly state \"%s\" ", NoFoodDetected)
	sb.WriteString("and do not provide any calorie information or any other section.\n\n")
	sb.WriteString("If food items are detected, respond with exactly these two labelled sections:\n\n")
	fmt.Fprintf(&sb, "%s [Name of the meal]\n", MealNameLabel)
	fmt.Fprintf(&sb, "%s\n", MealSummaryLabel)
	sb.WriteString("- a fun fact about the meal, if possible\n")
	sb.WriteString("- a markdown table of every ingredient you can identify with its estimated calories\n")
	sb.WriteString("- the total estimated calories\n")
	sb.WriteString("- whether the meal is healthy, and the percentage split of protein, carbs and fats\n")
	sb.WriteString("- what part of the daily vitamins, micros and macros this meal covers\n")
	sb.WriteString("- the total fiber content\n")
	sb.WriteString("- what other food items would combine well with it nutritionally, given the goal\n\n")
	fmt.Fprintf(&sb, "Write the meal name on the same line as %s and nothing else on that line.\n", MealNameLabel)
	sb.WriteString("Always identify ingredients and provide an estimated calorie count, even if some details are uncertain.\n")

	return sb.String()
}

// RenderDailySummaryPrompt asks for a summary of everything eaten today.
func RenderDailySummaryPrompt(goal, ledgerDump string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert nutritionist reviewing everything a person ate today.\n")
	fmt.Fprintf(&sb, "Their goal is: %s\n\n", goal)
	sb.WriteString("## Meals eaten today:\n\n")
	sb.WriteString(ledgerDump)
	sb.WriteString("\n\n")
	sb.WriteString("Summarize the day: total estimated calories, the overall protein/carbs/fats split, ")
	sb.WriteString("fiber, and how well the day supported the goal. Answer in markdown.\n")

	return sb.String()
}

// RenderGapFillingPrompt asks what nutrients are missing and how to cover them.
func RenderGapFillingPrompt(goal, ledgerDump string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert nutritionist.\n")
	fmt.Fprintf(&sb, "The person's goal is: %s\n\n", goal)
	sb.WriteString("## Meals eaten today:\n\n")
	sb.WriteString(ledgerDump)
	sb.WriteString("\n\n")
	sb.WriteString("Identify the vitamins, minerals and macros that are missing or low today ")
	sb.WriteString("and suggest specific foods or snacks that would fill those gaps. Answer in markdown.\n")

	return sb.String()
}

// RenderGutHealthPrompt asks for a gut-health / ayurvedic tip for the day.
func RenderGutHealthPrompt(goal, ledgerDump string) string {
	var sb strings.Builder

	sb.WriteString("You are a nutritionist with a background in ayurveda and gut health.\n")
	fmt.Fprintf(&sb, "The person's goal is: %s\n\n", goal)
	sb.WriteString("## Meals eaten today:\n\n")
	sb.WriteString(ledgerDump)
	sb.WriteString("\n\n")
	sb.WriteString("Give one practical gut-health or ayurvedic tip based on these meals, ")
	sb.WriteString("with a short explanation of why it helps. Answer in markdown.\n")

	return sb.String()
}

// RenderHomeDishesPrompt asks for dishes to cook at home. consumed lists meal
// names already eaten today; the exclusion is omitted when it is empty.
func RenderHomeDishesPrompt(goal, dietaryPreference, ledgerDump string, consumed []string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert nutritionist and home cook.\n")
	fmt.Fprintf(&sb, "The person's goal is: %s\n", goal)
	fmt.Fprintf(&sb, "Their dietary preference is: %s\n\n", dietaryPreference)
	if ledgerDump != "" {
		sb.WriteString("## Meals eaten today:\n\n")
		sb.WriteString(ledgerDump)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Suggest three dishes they can cook at home for the rest of the day that fit the goal ")
	sb.WriteString("and the dietary preference, with approximate calories and a one-line recipe outline for each.\n")
	if len(consumed) > 0 {
		fmt.Fprintf(&sb, "Do not suggest any of these meals, they were already eaten today: %s.\n", strings.Join(consumed, ", "))
	}
	sb.WriteString("Answer in markdown.\n")

	return sb.String()
}

// RenderMenuRankingPrompt asks the model to rank dishes on the attached menu
// images.
func RenderMenuRankingPrompt(goal, dietaryPreference, ledgerDump string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert nutritionist helping someone order at a restaurant.\n")
	sb.WriteString("The attached images are pages of the restaurant's menu.\n")
	fmt.Fprintf(&sb, "The person's goal is: %s\n", goal)
	fmt.Fprintf(&sb, "Their dietary preference is: %s\n\n", dietaryPreference)
	if ledgerDump != "" {
		sb.WriteString("## Meals eaten today:\n\n")
		sb.WriteString(ledgerDump)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Rank the five best dishes on the menu for this person, considering what they already ate today. ")
	sb.WriteString("For each dish give the estimated calories and one sentence on why it fits. Answer in markdown.\n")

	return sb.String()
}
