// Package narrative builds prompts for an external chat-completions text
// service and calls it. The service's reply is free text in the sectioned
// format the extraction package reads.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MedicationSection is the section of the reply that lists drugs.
const MedicationSection = "用药方案"

const systemPrompt = "你是一个专业的医疗AI助手,基于医学知识提供分析和建议。"

var (
	// ErrInvalidRequest is returned for a request missing required fields.
	ErrInvalidRequest = errors.New("invalid analysis request")
	// ErrTooFewMedications is returned when fewer than two drugs are given
	// for an interaction check.
	ErrTooFewMedications = errors.New("at least two medications are required")
)

// Request describes the patient and symptoms for one analysis.
type Request struct {
	Age      int     `json:"age"`
	Gender   string  `json:"gender"`
	HeightCM float64 `json:"height_cm,omitempty"`
	WeightKG float64 `json:"weight_kg,omitempty"`
	Symptoms string  `json:"symptoms"`
}

// Validate checks the fields the prompt cannot do without.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Symptoms) == "":
		return fmt.Errorf("%w: symptoms are required", ErrInvalidRequest)
	case r.Age <= 0 || r.Age > 150:
		return fmt.Errorf("%w: age %d", ErrInvalidRequest, r.Age)
	case strings.TrimSpace(r.Gender) == "":
		return fmt.Errorf("%w: gender is required", ErrInvalidRequest)
	}
	return nil
}

// Analyzer turns a request into a sectioned narrative.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

func optional(v float64) string {
	if v <= 0 {
		return "未提供"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BuildPrompt renders the analysis prompt. The 用药方案 block fixes the
// "- name：dosage usage" layout with 用药说明 and 注意事项 lines.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("作为一个专业的AI医疗助手,请基于以下信息进行分析,并严格按照指定格式输出:\n\n")
	b.WriteString("患者基本信息:\n")
	fmt.Fprintf(&b, "- 年龄: %d岁\n", req.Age)
	fmt.Fprintf(&b, "- 性别: %s\n", strings.TrimSpace(req.Gender))
	fmt.Fprintf(&b, "- 身高: %scm\n", optional(req.HeightCM))
	fmt.Fprintf(&b, "- 体重: %skg\n", optional(req.WeightKG))
	fmt.Fprintf(&b, "- 症状描述: %s\n\n", strings.TrimSpace(req.Symptoms))

	b.WriteString("请按以下格式提供分析结果:\n\n")
	b.WriteString(promptBody)
	return b.String()
}

const promptBody = `=== 初步诊断分析 ===
主要诊断：[诊断名称]
诊断依据：[具体说明]
鉴别诊断：[需要排除的疾病]
ICD-10编码：[对应的ICD-10编码]

=== 检查建议 ===
实验室检查：
[具体检查项目]

影像学检查：
[具体检查项目]

=== 用药方案 ===
推荐用药：
- [药品1]：[剂量] [用法]
用药说明：[具体说明]
注意事项：[用药注意事项]

- [药品2]：[剂量] [用法]
用药说明：[具体说明]
注意事项：[用药注意事项]

=== 生活指导 ===
饮食建议：[具体建议]
活动建议：[具体建议]
复诊计划：[具体安排]

注意事项:
1. 所有建议均基于循证医学证据
2. 本建议仅供参考,具体诊疗请遵医嘱

请严格按照以上格式输出，特别是用药信息部分，每个药品必须包含名称、剂量、用法、说明和注意事项，并使用统一的格式和缩进。
`

// BuildInteractionPrompt asks for pairwise interactions between drugs.
func BuildInteractionPrompt(medications []string) (string, error) {
	names := make([]string, 0, len(medications))
	for _, m := range medications {
		if m = strings.TrimSpace(m); m != "" {
			names = append(names, m)
		}
	}
	if len(names) < 2 {
		return "", ErrTooFewMedications
	}

	var b strings.Builder
	b.WriteString("请分析以下药物之间可能存在的相互作用：\n")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n\n请按以下格式输出：\n1. 存在的相互作用\n2. 风险等级（高/中/低）\n3. 注意事项\n4. 建议措施")
	return b.String(), nil
}
