package persona

// DefaultPrompt is the shop persona used when SYSTEM_PROMPT is unset.
const DefaultPrompt = "你是一位親切專業的電商客服人員，請用繁體中文回覆客戶問題。回答要簡潔有禮貌，不超過100字。"

// Persona captures the customer-service voice injected into every AI prompt.
type Persona struct {
	Name       string   `json:"name"`
	Prompt     string   `json:"prompt"`
	Rules      []string `json:"rules,omitempty"`      // 回复守则
	Knowledge  string   `json:"knowledge,omitempty"`  // 店铺知识库
	OpeningTag string   `json:"openingTag,omitempty"` // 称呼顾客的用语
}

// Default returns the built-in persona with prompt overridden when non-empty.
func Default(prompt string) Persona {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return Persona{
		Name:   "店鋪客服",
		Prompt: prompt,
		Rules: []string{
			"不確定的資訊不要編造，請引導顧客聯繫真人客服",
			"不承諾價格、庫存與到貨日期以外的事項",
			"涉及個資或付款問題時，提醒顧客透過平台官方管道處理",
		},
		OpeningTag: "親愛的顧客您好",
	}
}

// WithKnowledge returns a copy carrying the given knowledge base text.
func (p Persona) WithKnowledge(knowledge string) Persona {
	p.Rules = append([]string(nil), p.Rules...)
	p.Knowledge = knowledge
	return p
}
