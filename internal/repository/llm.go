package repository

import (
	"fmt"

	"github.com/DoctorRyner/mistral-go"
	"go.uber.org/zap"

	"chess_exe/internal/adapters"
)

type LlmRepo struct {
	adapter *adapters.LlmAdapter
	log     *zap.SugaredLogger
}

func NewLlmRepository(adapter *adapters.LlmAdapter, log *zap.SugaredLogger) *LlmRepo {
	return &LlmRepo{adapter: adapter, log: log}
}

func (l *LlmRepo) SendRequestToLlm(request string) (response string, err error) {
	agentReqParam := mistral.DefaultChatRequestParams
	agentReqParam.AgentId = l.adapter.AgentKey
	agentRes, err := l.adapter.Client.Chat("mistral-large-latest", []mistral.ChatMessage{{Content: request, Role: mistral.RoleUser}}, &agentReqParam)
	if err != nil {
		l.log.Errorw("send request to llm error", "error", err)
		return "", err
	}
	return fmt.Sprintf("%v", agentRes.Choices[0].Message.Content), nil
}
