package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/llm"
)

// Client 通过调用本地脚本完成生成，脚本从 stdin 读取 JSON 请求并向 stdout 写出 JSON 结果。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建脚本桥接客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if strings.TrimSpace(scriptPath) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type bridgeRequest struct {
	Handler   string   `json:"handler"`
	Model     string   `json:"model,omitempty"`
	System    string   `json:"system,omitempty"`
	Prompt    string   `json:"prompt"`
	MaxTokens int      `json:"max_tokens"`
	Knowledge []string `json:"knowledge,omitempty"`
}

type bridgeResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Error string `json:"error"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := bridgeRequest{
		Handler:   req.HandlerID,
		Model:     req.Model,
		System:    req.System,
		Prompt:    llm.UserContent(req),
		MaxTokens: llm.MaxTokensOf(req),
	}
	for _, card := range req.Knowledge {
		payload.Knowledge = append(payload.Knowledge, card.Title)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, err,
			fmt.Sprintf("执行 Python 脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	var resp bridgeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDownstreamFailure, err, "解析 Python 输出失败")
	}
	if resp.Error != "" {
		return nil, xerrors.New(xerrors.CodeDownstreamFailure, "Python 脚本返回错误: "+resp.Error)
	}

	return &llm.Response{
		Text:     strings.TrimSpace(resp.Text),
		Model:    resp.Model,
		Provider: "python_bridge",
	}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)
