package rule

import (
	"errors"
	"strings"
)

var (
	ErrNotFound    = errors.New("keyword rule not found")
	ErrInvalidRule = errors.New("keyword rule needs at least one keyword and a reply")
)

// Rule is a canned reply triggered when any keyword appears in the buyer's text.
type Rule struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
	Reply    string   `json:"reply"`
	Enabled  bool     `json:"enabled"`
}

// Normalize trims keywords and drops empty ones. It does not touch Reply.
func (r Rule) Normalize() Rule {
	keywords := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	r.Keywords = keywords
	r.ID = strings.TrimSpace(r.ID)
	return r
}

// Validate reports ErrInvalidRule for rules that could never fire.
func (r Rule) Validate() error {
	if len(r.Normalize().Keywords) == 0 || strings.TrimSpace(r.Reply) == "" {
		return ErrInvalidRule
	}
	return nil
}

func (r Rule) clone() Rule {
	r.Keywords = append([]string(nil), r.Keywords...)
	return r
}

// Seed returns the default FAQ rules shipped with the bot.
func Seed() []Rule {
	return []Rule{
		{
			ID:       "shipping-fee",
			Keywords: []string{"運費", "運費多少", "免運"},
			Reply:    "親愛的顧客您好！運費依據您的收件地址計算，滿 $499 即享免運優惠喔！",
			Enabled:  true,
		},
		{
			ID:       "returns",
			Keywords: []string{"退貨", "退款", "換貨"},
			Reply:    "親愛的顧客您好！我們提供 7 天鑑賞期，如需退換貨請保持商品完整，並聯繫我們客服處理。",
			Enabled:  true,
		},
		{
			ID:       "dispatch",
			Keywords: []string{"出貨", "什麼時候寄", "寄出"},
			Reply:    "親愛的顧客您好！訂單確認後 1-2 個工作天內出貨，屆時會有物流通知喔！",
			Enabled:  true,
		},
		{
			ID:       "service-hours",
			Keywords: []string{"營業時間", "客服時間"},
			Reply:    "親愛的顧客您好！我們的客服時間為週一至週五 9:00-18:00，感謝您的耐心等候！",
			Enabled:  true,
		},
	}
}
