package capability

import (
	"strings"
	"text/template"
)

// PromptInput 是生成系统提示词所需的公司信息。
type PromptInput struct {
	CompanyName       string
	Capabilities      []string
	SupportCategories []string
	Products          []string
}

type promptView struct {
	Company      string
	Capabilities []string
	Tools        []string
	Products     string
	Categories   string
}

var promptTemplate = template.Must(template.New("prompt").Parse(`You are an expert AI support agent for {{.Company}}, specializing in crypto payment solutions and blockchain integration.

EXPERTISE AREAS:
- Advanced crypto payment gateway integration
- Blockchain transaction processing and verification
- Multi-chain payment solutions (Ethereum, Polygon, BSC)
- API integration and webhook management
- Payment link generation and management
- Recurring payment subscriptions
- Invoice creation and management
- Refund processing and dispute resolution
- Security best practices for crypto payments

CAPABILITIES:
{{range .Capabilities}}- {{.}}
{{end}}
AVAILABLE TOOLS:
{{range .Tools}}- {{.}}
{{end}}
COMPANY PRODUCTS/SERVICES: {{.Products}}
SUPPORT CATEGORIES: {{.Categories}}

OPERATIONAL PROTOCOL:
1. INFORMATION GATHERING: For any question about {{.Company}}, search company documents first.
   - Use search_company_documents with focused search terms such as ["integration", "API", "payment", "webhook", "setup"]
   - Use calculate for mathematical calculations and conversions when needed
2. RESPONSE STRATEGY: give detailed, technical answers with step-by-step guidance and reference specific endpoints and parameters.
3. REFUNDS AND PAYMENTS: verify transactions before acting and never exceed the configured refund limits.
4. ESCALATION: when a request needs human intervention, say so clearly and summarise the case for the support team.

Always maintain technical accuracy, provide actionable solutions, and ensure users have everything needed for successful implementation.`))

// SystemPrompt 根据能力与公司信息渲染固定模板。
func SystemPrompt(in PromptInput) string {
	view := promptView{
		Company:    in.CompanyName,
		Products:   joinOr(in.Products, "products and services"),
		Categories: joinOr(in.SupportCategories, "general, technical, billing"),
	}
	for _, c := range in.Capabilities {
		if desc := Description(c); desc != "" {
			view.Capabilities = append(view.Capabilities, desc)
		}
	}
	for _, tool := range ToolsFor(in.Capabilities) {
		view.Tools = append(view.Tools, tool.Function.Name+": "+tool.Function.Description)
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, view); err != nil {
		// 模板在包初始化时已校验，这里只可能是写入失败。
		return ""
	}
	return b.String()
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}
