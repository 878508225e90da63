package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"github.com/embereye/docpilot/server"
	"github.com/embereye/docpilot/utils"
	"io"
	"net/http"
	"time"
)

// the aim of the project is to run the compute side of a document
// question-answering service: ingestion, embedding, retrieval and
// summarization jobs scheduled over a mixed pool of model and cpu workers

var port = flag.Int("port", 9000, "port to listen on")
var host = flag.String("host", "0.0.0.0", "host to listen at")
var configPath = flag.String("config", "config.yaml", "path to config file")
var topInterval = flag.Int("top-interval", 1000, "interval to update `top` (ms)")
var termUi = flag.Bool("term-ui", true, "enable term ui")

func main() {
	flag.Parse()
	lg, logChan := utils.ConsoleInit("doc-srv", termUi)

	ctx, err := server.NewContext(*configPath, lg, &server.Settings{
		TopInterval: time.Duration(*topInterval) * time.Millisecond,
		TermUI:      *termUi,
		LogChan:     logChan,
	})
	if err != nil {
		lg.Fatal().Err(err).Msg("error creating server context")
	}

	go ctx.Start(func(ctx *server.Context) {
		lg.Info().Msg("compute coordinator is up")
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			lg.Error().Err(err).Msg("failed to read request")
			return
		}
		defer r.Body.Close()

		clientRequest := &server.ClientRequest{}
		err = json.Unmarshal(body, clientRequest)
		if err != nil {
			lg.Error().Err(err).Msg("error parsing client request")
			return
		}

		resp := processRequest(clientRequest, ctx)

		respBytes, err := json.Marshal(resp)
		if err != nil {
			lg.Error().Err(err).Msg("error serializing server response")
			return
		}

		_, err = w.Write(respBytes)
		if err != nil {
			lg.Error().Err(err).Msg("error sending server response")
		}
	})

	workingHost := fmt.Sprintf("%s:%d", *host, *port)
	lg.Info().Msgf("starting on: %s", workingHost)
	err = http.ListenAndServe(workingHost, nil)
	if err != nil {
		lg.Fatal().Err(err).Msg("error starting server")
	}
}

func processRequest(request *server.ClientRequest, ctx *server.Context) *server.ServerResponse {
	result := &server.ServerResponse{
		CorrelationId: request.CorrelationId,
	}

	var err error
	if request.IngestDocument != nil {
		result.JobId, err = ctx.IngestDocument(request.IngestDocument)
	}

	if request.StreamChunk != nil {
		result.JobId, err = ctx.StreamChunk(request.StreamChunk)
	}

	if request.GetSummary != nil {
		result.JobId, err = ctx.RequestSummary(request.GetSummary)
	}

	if request.GetLayout != nil {
		result.JobId, err = ctx.RequestLayout(request.GetLayout)
	}

	if request.Search != nil {
		result.SearchResults, err = ctx.Search(request.Search)
	}

	if request.SetWorkerCount != nil {
		ctx.Coordinator.SetWorkerCount(request.SetWorkerCount.Count)
	}

	if err != nil {
		result.Error = err.Error()
	}

	result.ActiveJobs = ctx.Coordinator.ActiveJobs()

	return result
}
