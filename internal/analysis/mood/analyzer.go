package mood

import "strings"

// Label 表示顾客消息的情绪倾向，用于调整 AI 回复语气。
type Label string

const (
	Neutral    Label = "neutral"
	Satisfied  Label = "satisfied"
	Frustrated Label = "frustrated"
	Urgent     Label = "urgent"
)

// Decision 给出情绪判断与得分。
type Decision struct {
	Mood  Label
	Score int
}

// order fixes tie-breaking: a frustrated buyer outranks an urgent one.
var order = []Label{Frustrated, Urgent, Satisfied}

var keywordBuckets = map[Label][]string{
	Frustrated: {
		"生氣", "爛", "很差", "太慢", "還沒收到", "騙", "失望", "投訴", "客訴", "不爽", "退錢", "瑕疵", "壞掉",
		"負評", "差評", "搞什麼", "垃圾", "angry", "terrible", "worst", "refund now", "broken", "scam",
	},
	Urgent: {
		"急", "趕快", "馬上", "今天", "盡快", "儘快", "立刻", "快點", "趕時間", "來得及", "asap", "urgent", "hurry",
	},
	Satisfied: {
		"謝謝", "感謝", "很棒", "喜歡", "滿意", "好評", "讚", "收到了", "開心", "thanks", "thank you", "great", "love",
	},
}

const exclamationBoost = 2

// Analyze scores a buyer message into a mood bucket.
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Mood: Neutral}
	}

	scores := make(map[Label]int, len(order))
	for _, label := range order {
		for _, word := range keywordBuckets[label] {
			if strings.Contains(normalized, strings.ToLower(word)) {
				scores[label] += 3
			}
		}
	}

	// 感叹号放大已有的负面或急迫情绪，单独出现时不判定。
	exclamations := strings.Count(text, "!") + strings.Count(text, "！")
	if exclamations > 0 {
		if scores[Frustrated] > 0 {
			scores[Frustrated] += exclamations * exclamationBoost
		} else if scores[Urgent] > 0 {
			scores[Urgent] += exclamations * exclamationBoost
		}
	}

	best := Decision{Mood: Neutral}
	for _, label := range order {
		if scores[label] > best.Score {
			best = Decision{Mood: label, Score: scores[label]}
		}
	}
	return best
}

// Guidance returns the tone instruction appended to the system prompt, or ""
// for neutral buyers.
func Guidance(label Label) string {
	switch label {
	case Frustrated:
		return "顧客情緒不滿，請先誠懇致歉並表達理解，再提供具體的處理方式，避免制式化回覆。"
	case Urgent:
		return "顧客顯得著急，請直接給出重點與可行的時程，不要贅述。"
	case Satisfied:
		return "顧客心情愉快，請保持熱情並適度感謝顧客的支持。"
	default:
		return ""
	}
}
