package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"support-agent/internal/domain"
)

const noProductsLine = "No relevant products found."

func defaultSystemPrompt() string {
	return strings.Join([]string{
		"You are a helpful and friendly AI customer support assistant for an e-commerce website.",
		"Your goals:",
		"- Answer customer queries politely and clearly.",
		"- Always include at least one product from the provided \"Available products\" list if any exist.",
		"- Suggest alternatives or ask clarifying questions if no products match.",
		"- Keep responses concise, professional, and easy to understand.",
		"- Provide useful advice like delivery info, availability, or category suggestions.",
		"- Always maintain a helpful, empathetic, and human-like tone.",
		"- Quote prices exactly as they appear in the \"Available products\" list.",
		"- Do not answer questions unrelated to products, orders or support issues.",
	}, "\n")
}

// assembleTurns builds {system, ...history, user}. Catalog results are
// embedded in the final user turn only, so they never reach stored history.
func assembleTurns(systemPrompt string, history []domain.Message, products []domain.CatalogEntry, message, currency string) []domain.ChatMessage {
	turns := make([]domain.ChatMessage, 0, len(history)+2)
	turns = append(turns, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		turns = append(turns, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	turns = append(turns, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: fmt.Sprintf("User query: \"%s\"\n\nAvailable products:\n%s", message, productContext(products, currency)),
	})
	return turns
}

func productContext(products []domain.CatalogEntry, currency string) string {
	if len(products) == 0 {
		return noProductsLine
	}
	lines := make([]string, 0, len(products))
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("• %s (Price: %s%s)", p.Name, currency, strconv.FormatFloat(p.Price, 'f', 2, 64)))
	}
	return strings.Join(lines, "\n")
}
