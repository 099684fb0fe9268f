package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"AgentHub/internal/tools"
)

// DefaultWindow 是检索命中前后保留的字符数。
const DefaultWindow = 200

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(terms []string, sources []string) []Match
}

// Snippet 是一篇可检索的文档。
type Snippet struct {
	Title   string `json:"title"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
}

// Match 汇总一篇文档中各检索词的命中情况。
type Match struct {
	Title   string                     `json:"document"`
	Source  string                     `json:"source,omitempty"`
	Hits    map[string]tools.SearchHit `json:"matches"`
	Matched int                        `json:"matched_terms"`
}

// StaticProvider 在内存中的文档集合上做关键词检索。
type StaticProvider struct {
	items      []Snippet
	maxResults int
	window     int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
		window:     DefaultWindow,
	}
}

var documentHeader = regexp.MustCompile(`(?m)^--- DOCUMENT (\d+): (.+?) ---$`)

// FromContext 把合并后的文档上下文按分隔行切分为独立文档。
// 没有分隔行的上下文整体视为一篇文档。
func FromContext(context string, maxResults int) *StaticProvider {
	context = strings.TrimSpace(context)
	if context == "" {
		return NewStaticProvider(nil, maxResults)
	}
	headers := documentHeader.FindAllStringSubmatchIndex(context, -1)
	if len(headers) == 0 {
		return NewStaticProvider([]Snippet{{Title: "company documents", Content: context}}, maxResults)
	}

	items := make([]Snippet, 0, len(headers))
	for i, h := range headers {
		number := context[h[2]:h[3]]
		source := context[h[4]:h[5]]
		end := len(context)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := context[h[1]:end]
		body = strings.TrimSuffix(strings.TrimSpace(body), "--- END DOCUMENT "+number+" ---")
		items = append(items, Snippet{
			Title:   "document " + number,
			Source:  source,
			Content: strings.TrimSpace(body),
		})
	}
	return NewStaticProvider(items, maxResults)
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Len 返回文档数量。
func (p *StaticProvider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Sources 返回全部文档来源。
func (p *StaticProvider) Sources() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.items))
	for _, item := range p.items {
		if item.Source != "" {
			out = append(out, item.Source)
		}
	}
	return out
}

// Query 返回至少命中一个检索词的文档，sources 非空时只检索这些来源。
func (p *StaticProvider) Query(terms []string, sources []string) []Match {
	if p == nil {
		return nil
	}
	terms = normalize(terms)
	if len(terms) == 0 {
		return nil
	}

	results := make([]Match, 0, p.maxResults)
	for _, item := range p.items {
		if !selected(item, sources) {
			continue
		}
		hits, found := tools.SearchTerms(item.Content, terms, p.window)
		if found == 0 {
			continue
		}
		results = append(results, Match{Title: item.Title, Source: item.Source, Hits: hits, Matched: found})
		if len(results) >= p.maxResults {
			break
		}
	}
	return results
}

func normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term != "" {
			out = append(out, term)
		}
	}
	return out
}

func selected(item Snippet, sources []string) bool {
	if len(sources) == 0 {
		return true
	}
	for _, s := range sources {
		if strings.EqualFold(strings.TrimSpace(s), item.Source) {
			return true
		}
	}
	return false
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
