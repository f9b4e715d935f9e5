package notify

import (
	"fmt"
	"strings"
	"time"
)

// maxCardSamples caps the log entries rendered into one card.
const maxCardSamples = 3

// BuildAlertCard renders the interactive alert card payload.
// Params: rule name, matched index, log sample, total count, and window bounds.
// Returns: webhook message body.
func BuildAlertCard(ruleName, indexName string, logs []map[string]any, logCount int, from, to time.Time) map[string]any {
	elements := []map[string]any{
		{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": fmt.Sprintf("**📋 规则名称**\n%s", ruleName),
			},
		},
		{
			"tag": "div",
			"fields": []map[string]any{
				{
					"is_short": true,
					"text": map[string]any{
						"tag":     "lark_md",
						"content": fmt.Sprintf("**⏰ 时间范围**\n%s\n%s", formatCardTime(from), formatCardTime(to)),
					},
				},
				{
					"is_short": true,
					"text": map[string]any{
						"tag":     "lark_md",
						"content": fmt.Sprintf("**🔔 告警数量**\n%d 条", logCount),
					},
				},
			},
		},
		{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": fmt.Sprintf("**📊 索引名称**\n`%s`", indexName),
			},
		},
		{"tag": "hr"},
	}

	if len(logs) > 0 && logCount > 0 {
		elements = append(elements, map[string]any{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": fmt.Sprintf("**📝 日志摘要**（共 %d 条，展示前 %d 条）", logCount, maxCardSamples),
			},
		})

		displayCount := len(logs)
		if displayCount > maxCardSamples {
			displayCount = maxCardSamples
		}
		for i := 0; i < displayCount; i++ {
			if i > 0 {
				elements = append(elements, map[string]any{"tag": "hr"})
			}
			elements = append(elements, map[string]any{
				"tag":    "div",
				"fields": extractLogFields(i+1, logs[i], ruleName),
			})
		}

		if logCount > maxCardSamples {
			elements = append(elements,
				map[string]any{"tag": "hr"},
				map[string]any{
					"tag": "div",
					"text": map[string]any{
						"tag":     "lark_md",
						"content": fmt.Sprintf("**➕ 还有 %d 条日志未显示**\n💡 查看完整日志请登录系统", logCount-maxCardSamples),
					},
				})
		}
	}

	elements = append(elements,
		map[string]any{"tag": "hr"},
		map[string]any{
			"tag": "note",
			"elements": []map[string]any{
				{
					"tag":     "plain_text",
					"content": "💡 完整日志详情请登录告警系统查看",
				},
			},
		},
		map[string]any{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": "<at id=all></at>",
			},
		})

	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"config": map[string]any{
				"wide_screen_mode": true,
			},
			"header": map[string]any{
				"title": map[string]any{
					"tag":     "plain_text",
					"content": "🚨 ELK 告警",
				},
				"template": "red",
			},
			"elements": elements,
		},
	}
}

// BuildTestCard renders a small connectivity check payload.
// Params: none.
// Returns: webhook message body.
func BuildTestCard() map[string]any {
	return map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"config": map[string]any{
				"wide_screen_mode": true,
			},
			"header": map[string]any{
				"title": map[string]any{
					"tag":     "plain_text",
					"content": "✅ 告警通道测试",
				},
				"template": "green",
			},
			"elements": []map[string]any{
				{
					"tag": "div",
					"text": map[string]any{
						"tag":     "lark_md",
						"content": "告警通道连接正常。",
					},
				},
			},
		},
	}
}

// appLogKeywords marks rule names that carry application-style logs.
var appLogKeywords = []string{
	"java", "go", "c++", "cpp", "python", "nodejs", "node",
	"app", "application", "service", "api", "web",
}

// extractLogFields picks the card field layout from the rule name.
// Params: 1-based row number, one log document, and rule name.
// Returns: card fields for nginx-style or application-style logs.
func extractLogFields(rowNum int, log map[string]any, ruleName string) []map[string]any {
	ruleNameLower := strings.ToLower(ruleName)

	if strings.Contains(ruleNameLower, "nginx") {
		return nginxLogFields(rowNum, log)
	}
	for _, keyword := range appLogKeywords {
		if strings.Contains(ruleNameLower, keyword) {
			return appLogFields(rowNum, log)
		}
	}

	if _, ok := log["response_code"]; ok {
		return nginxLogFields(rowNum, log)
	}
	if _, ok := log["module"]; ok {
		if _, ok := log["message"]; ok {
			return appLogFields(rowNum, log)
		}
	}
	return appLogFields(rowNum, log)
}

// nginxLogFields renders access-log documents.
// Params: 1-based row number and one log document.
// Returns: status code, time, request path, cf_ray, and domain fields.
func nginxLogFields(rowNum int, log map[string]any) []map[string]any {
	responseCode := firstPresent(log, "response_code", "status_code", "status")
	requestURL := trimmedRequestPath(log)

	cfRay := "-"
	if val, ok := log["cf_ray"]; ok && val != nil && val != "" {
		cfRay = fmt.Sprintf("%v", val)
	}
	domainName := "-"
	if val, ok := log["domain"]; ok && val != nil && val != "" {
		domainName = fmt.Sprintf("%v", val)
	}

	return []map[string]any{
		shortField(fmt.Sprintf("**#%d | 状态码:** <font color='red'>%s</font>", rowNum, responseCode)),
		shortField(fmt.Sprintf("**⏰ 时间:** %s", formatTimestamp(log))),
		shortField(fmt.Sprintf("**🔗 URL:** `%s`", requestURL)),
		shortField(fmt.Sprintf("**☁️ CF Ray:** `%s`", cfRay)),
		shortField(fmt.Sprintf("**🌐 Domain:** `%s`", domainName)),
	}
}

// appLogFields renders application-log documents.
// Params: 1-based row number and one log document.
// Returns: module, node, time, and message fields.
func appLogFields(rowNum int, log map[string]any) []map[string]any {
	module := "-"
	if val, ok := log["module"]; ok && val != nil && val != "" {
		module = fmt.Sprintf("%v", val)
	}
	nodeIP := "-"
	if val, ok := log["node_ip"]; ok && val != nil && val != "" {
		nodeIP = fmt.Sprintf("%v", val)
	}

	message := "-"
	if val, ok := log["message"]; ok && val != nil && val != "" {
		text := fmt.Sprintf("%v", val)
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		text = strings.ReplaceAll(text, "\n", " ")
		text = strings.ReplaceAll(text, "\r", "")
		message = text
	}

	return []map[string]any{
		shortField(fmt.Sprintf("**#%d | 📦 模块:** `%s`", rowNum, module)),
		shortField(fmt.Sprintf("**🖥️ 节点:** `%s`", nodeIP)),
		shortField(fmt.Sprintf("**⏰ 时间:** %s", formatTimestamp(log))),
		{
			"is_short": false,
			"text": map[string]any{
				"tag":     "lark_md",
				"content": fmt.Sprintf("**💬 消息:**\n```\n%s\n```", message),
			},
		},
	}
}

// shortField wraps one lark_md line as a half-width card field.
// Params: rendered markdown content.
// Returns: card field map.
func shortField(content string) map[string]any {
	return map[string]any{
		"is_short": true,
		"text": map[string]any{
			"tag":     "lark_md",
			"content": content,
		},
	}
}

// firstPresent formats the first non-empty value among candidate keys.
// Params: log document and ordered key candidates.
// Returns: formatted value or "-".
func firstPresent(log map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := log[key]; ok && val != nil {
			return fmt.Sprintf("%v", val)
		}
	}
	return "-"
}

// trimmedRequestPath strips query parameters and caps the request path at 50 chars.
// Params: log document with request or path field.
// Returns: display path or "-".
func trimmedRequestPath(log map[string]any) string {
	for _, key := range []string{"request", "path"} {
		val, ok := log[key]
		if !ok || val == nil || val == "" {
			continue
		}
		text := fmt.Sprintf("%v", val)
		if idx := strings.Index(text, "?"); idx > 0 {
			text = text[:idx]
		}
		if len(text) > 50 {
			text = text[:50] + "..."
		}
		return text
	}
	return "-"
}

// formatTimestamp renders the @timestamp field for display.
// Params: log document.
// Returns: "YYYY-MM-DD HH:MM:SS"-ish string or "-".
func formatTimestamp(log map[string]any) string {
	val, ok := log["@timestamp"]
	if !ok || val == nil {
		return "-"
	}

	text := fmt.Sprintf("%v", val)
	if strings.Contains(text, "T") {
		text = strings.Replace(text, "T", " ", 1)
		text = strings.Replace(text, "Z", "", 1)
		if idx := strings.Index(text, "."); idx > 0 {
			text = text[:idx]
		}
	}
	return text
}

// formatCardTime renders a window bound for the card header.
// Params: bound instant.
// Returns: "2006-01-02 15:04:05" string.
func formatCardTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
