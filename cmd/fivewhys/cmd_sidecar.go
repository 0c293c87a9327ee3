package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/Michdriod/RCA-AI/internal/app"
	"github.com/Michdriod/RCA-AI/internal/config"
	"github.com/Michdriod/RCA-AI/internal/llm"
	"github.com/Michdriod/RCA-AI/internal/logging"
)

var sidecarFlags struct {
	listen string
}

var sidecarCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Serve the configured model over gRPC for MODEL_BACKEND=grpc servers",
	Long: `Exposes the configured model (or the scripted model with --offline) as the
rca.v1.Generator gRPC service with standard health checking. Servers started
with MODEL_BACKEND=grpc and MODEL_GRPC_ADDR pointing here use it for generation.`,
	Args: cobra.NoArgs,
	RunE: runSidecar,
}

func init() {
	sidecarCmd.Flags().StringVar(&sidecarFlags.listen, "listen", ":50051", "gRPC listen address")
}

func runSidecar(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if cfg.AI.Backend == config.ModelGRPC {
		return fmt.Errorf("sidecar cannot forward to another sidecar; set MODEL_BACKEND=openai or pass --offline")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New("sidecar")
	model, closeModel, err := app.NewModel(ctx, cfg.AI, logger)
	if err != nil {
		return err
	}
	defer closeModel()

	lis, err := net.Listen("tcp", sidecarFlags.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sidecarFlags.listen, err)
	}
	srv := grpc.NewServer()
	llm.RegisterGeneratorServer(srv, model, logger)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down sidecar")
		srv.GracefulStop()
	}()

	logger.Info("Sidecar listening", "addr", lis.Addr().String(), "model", model.Name())
	return srv.Serve(lis)
}
