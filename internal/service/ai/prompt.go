package ai

import (
	"strings"

	"github.com/zhouzirui/shopbot/backend/internal/analysis/mood"
	"github.com/zhouzirui/shopbot/backend/internal/model/persona"
)

// BuildSystemPrompt 组合客服人设、回复守则、店铺知识库与顾客情绪提示。
func BuildSystemPrompt(p persona.Persona, label mood.Label) string {
	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(p.Prompt))

	if p.OpeningTag != "" {
		builder.WriteString("\n\n稱呼顧客時請使用：")
		builder.WriteString(p.OpeningTag)
	}

	if len(p.Rules) > 0 {
		builder.WriteString("\n\n回覆守則：")
		for _, rule := range p.Rules {
			builder.WriteString("\n- ")
			builder.WriteString(rule)
		}
	}

	if knowledge := strings.TrimSpace(p.Knowledge); knowledge != "" {
		builder.WriteString("\n\n以下是店鋪知識庫，請優先依據這些內容回答，找不到答案時請坦白告知：\n")
		builder.WriteString(knowledge)
	}

	if guidance := mood.Guidance(label); guidance != "" {
		builder.WriteString("\n\n顧客情緒提示：")
		builder.WriteString(guidance)
	}

	return builder.String()
}
