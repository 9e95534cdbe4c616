package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"AgentRouter/internal/catalog"
)

// Retriever 为处理器检索生成所需的参考资料（RAG 服务）。
type Retriever interface {
	Retrieve(ctx context.Context, query string, handler *catalog.Descriptor) ([]Snippet, error)
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	// Domains 为空表示适用于所有领域。
	Domains []catalog.Domain `json:"domains,omitempty" yaml:"domains"`
	Source  string           `json:"source,omitempty" yaml:"source"`
}

// StaticProvider 从本地文件加载知识条目，按关键字与领域进行匹配。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 或 YAML 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}

	var entries []Snippet
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(content, &entries)
	} else {
		err = yaml.Unmarshal(content, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Retrieve 返回与问题匹配且适用于处理器领域的知识条目。
func (p *StaticProvider) Retrieve(ctx context.Context, query string, handler *catalog.Descriptor) ([]Snippet, error) {
	if p == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(query))
	if handler != nil {
		text += " " + strings.ToLower(strings.Join(handler.FocusAreas, " "))
	}

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if !appliesTo(item, handler) || !matches(item, text) {
			continue
		}
		results = append(results, item)
		if len(results) >= p.maxResults {
			break
		}
	}
	return results, nil
}

func appliesTo(snippet Snippet, handler *catalog.Descriptor) bool {
	if handler == nil || len(snippet.Domains) == 0 {
		return true
	}
	for _, d := range snippet.Domains {
		if d == handler.Domain {
			return true
		}
	}
	return false
}

func matches(snippet Snippet, text string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized != "" && strings.Contains(text, normalized) {
			return true
		}
	}
	return false
}

var _ Retriever = (*StaticProvider)(nil)
