package engines

import (
	"bytes"
	"encoding/json"
	"fmt"
	zlog "github.com/rs/zerolog/log"
	"io"
	"net/http"
	"strings"
)

type completionCommand struct {
	Prompt      string   `json:"prompt"`
	N           int      `json:"n"`
	Max         int      `json:"max_tokens"`
	Stop        []string `json:"stop"`
	Temperature float32  `json:"temperature"`
	Model       string   `json:"model"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// RunCompletionRequest sends one prompt to an openai-compatible /completions
// endpoint and returns the first choice.
func RunCompletionRequest(engine *RemoteEngine, req *GenerationSettings) (*Message, error) {
	client := http.Client{
		Timeout: InferenceTimeout,
	}

	model := ""
	if len(engine.Models) > 0 {
		model = engine.Models[0]
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cmd := &completionCommand{
		Prompt:      req.RawPrompt,
		N:           1,
		Max:         maxTokens,
		Stop:        req.StopTokens,
		Temperature: req.Temperature,
		Model:       model,
	}

	commandBuffer, err := json.Marshal(cmd)
	if err != nil {
		zlog.Fatal().Err(err).Msg("error marshaling command")
	}

	resp, err := client.Post(fmt.Sprintf("%s/completions", strings.TrimSuffix(engine.EndpointUrl, "/")),
		"application/json",
		bytes.NewBuffer(commandBuffer))
	if err != nil {
		zlog.Error().Msgf("error in request: %v, %s", err, engine.EndpointUrl)
		return nil, err
	}

	result, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		zlog.Error().Err(err).Msgf("error reading response: %v", err)
		return nil, err
	}

	if resp.StatusCode != 200 {
		err = fmt.Errorf("http code is %d, err: %v", resp.StatusCode, string(result))
		zlog.Error().Err(err).
			Msgf("err in compl. (%s): %v", engine.EndpointUrl, err)
		return nil, err
	}

	parsedResponse := &completionResponse{}
	err = json.Unmarshal(result, parsedResponse)
	if err != nil {
		zlog.Error().Err(err).
			Msgf("error unmarshalling response: %v", string(result))
		return nil, err
	}

	if len(parsedResponse.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response from %s", engine.EndpointUrl)
	}

	if req.StatisticsCallback != nil {
		req.StatisticsCallback(&StatisticsInfo{
			PromptTokens:    parsedResponse.Usage.PromptTokens,
			TokensGenerated: parsedResponse.Usage.CompletionTokens,
		})
	}

	return &Message{
		Role:    ChatRoleAssistant,
		Content: parsedResponse.Choices[0].Text,
	}, nil
}
