package engines

import (
	"bytes"
	"encoding/json"
	"fmt"
	zlog "github.com/rs/zerolog/log"
	"io"
	"net/http"
)

// RunEmbeddingsRequest embeds a batch of inputs in one round trip and returns
// one vector per input, plus the model name the backend reported.
func RunEmbeddingsRequest(engine *RemoteEngine, inputs []string) ([][]float64, string, error) {
	if len(inputs) == 0 {
		return nil, "", nil
	}
	if engine.EmbeddingsEndpointUrl == "" {
		return nil, "", fmt.Errorf("embeddings endpoint is not configured for engine %s", engine.EndpointUrl)
	}

	client := http.Client{
		Timeout: InferenceTimeout,
	}

	type command struct {
		Input []string `json:"input"`
	}

	commandBuffer, err := json.Marshal(&command{Input: inputs})
	if err != nil {
		zlog.Fatal().Err(err).Msg("error marshaling command")
	}

	resp, err := client.Post(engine.EmbeddingsEndpointUrl,
		"application/json",
		bytes.NewBuffer(commandBuffer))
	if err != nil {
		zlog.Error().Err(err).
			Str("url", engine.EmbeddingsEndpointUrl).
			Msg("error sending embeddings request")
		return nil, "", err
	}

	result, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		zlog.Error().Err(err).Msg("error reading embeddings response")
		return nil, "", err
	}
	if resp.StatusCode != 200 {
		err = fmt.Errorf("embeddings http code is %d", resp.StatusCode)
		zlog.Error().Err(err).Str("url", engine.EmbeddingsEndpointUrl).Msg("error in embeddings request")
		return nil, "", err
	}

	type embeddingsResponse struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Model string `json:"model"`
	}

	parsedResponse := &embeddingsResponse{}
	err = json.Unmarshal(result, parsedResponse)
	if err != nil {
		zlog.Error().Err(err).
			Str("response", string(result)).
			Msg("error unmarshalling embeddings response")
		return nil, "", err
	}

	if len(parsedResponse.Data) != len(inputs) {
		return nil, "", fmt.Errorf("got %d embeddings for %d inputs", len(parsedResponse.Data), len(inputs))
	}

	vectors := make([][]float64, len(inputs))
	for idx := range parsedResponse.Data {
		vectors[idx] = parsedResponse.Data[idx].Embedding
	}

	return vectors, parsedResponse.Model, nil
}
