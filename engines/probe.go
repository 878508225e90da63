package engines

import (
	"fmt"
	zlog "github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"io"
	"net/http"
	"strings"
	"time"
)

func guessModelsEndpoint(engine *RemoteEngine) string {
	if strings.Contains(engine.EndpointUrl, "/v1/") {
		tokens := strings.Split(engine.EndpointUrl, "/v1/")
		return tokens[0] + "/v1/models"
	}

	return strings.TrimSuffix(engine.EndpointUrl, "/") + "/v1/models"
}

// StartRemoteEngine probes the backend: fetches the model list, runs one test
// embedding to detect vector dimensions, and reads the optional device field
// reported by the backend. Writes struct{}{} to done when finished, whatever
// the outcome; the caller inspects CompletionFailed / EmbeddingsFailed.
func StartRemoteEngine(engine *RemoteEngine, done chan struct{}) {
	defer func() {
		done <- struct{}{}
	}()

	client := &http.Client{Timeout: 30 * time.Second}

	if err := fetchEngineModels(engine, client); err != nil {
		zlog.Warn().Err(err).Str("url", engine.EndpointUrl).Msg("model list autodetection failed")
		engine.CompletionFailed = true
	}

	if engine.EmbeddingsEndpointUrl == "" {
		engine.EmbeddingsFailed = true
		return
	}

	probe := "autodetect"
	vectors, model, err := RunEmbeddingsRequest(engine, []string{probe})
	if err != nil || len(vectors) == 0 {
		engine.EmbeddingsFailed = true
		return
	}

	dims := uint64(len(vectors[0]))
	engine.EmbeddingsDims = &dims
	engine.EmbeddingsModel = model
}

func fetchEngineModels(engine *RemoteEngine, client *http.Client) error {
	req, err := http.NewRequest(http.MethodGet, guessModelsEndpoint(engine), nil)
	if err != nil {
		return err
	}
	if engine.Token != "" {
		req.Header.Set("Authorization", "Bearer "+engine.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("models endpoint http code is %d", resp.StatusCode)
	}

	models := make([]string, 0, 1)
	for _, entry := range gjson.GetBytes(body, "data.#.id").Array() {
		models = append(models, entry.String())
	}
	engine.Models = models

	// non-standard field some backends report; absent means CPU fallback
	device := gjson.GetBytes(body, "data.0.device").String()
	engine.Accelerated = device != "" && device != "cpu"

	return nil
}
