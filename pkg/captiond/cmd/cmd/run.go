// Copyright 2026 Caprock Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/caprockio/captiond/pkg/captiond"
	"github.com/caprockio/captiond/pkg/captiond/lib/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the captiond server",
	Long:  `Start the captiond HTTP server for image caption inference.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("listen", ":8093", "HTTP listen address")
	mustBindPFlag("listen_addr", runCmd.Flags().Lookup("listen"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	cfg := captiond.Config{
		ListenAddr:             viper.GetString("listen_addr"),
		ModelsDir:              viper.GetString("models_dir"),
		EncoderPath:            viper.GetString("encoder_path"),
		DecoderPath:            viper.GetString("decoder_path"),
		TokenizerPath:          viper.GetString("tokenizer_path"),
		EncoderURL:             viper.GetString("encoder_url"),
		DecoderURL:             viper.GetString("decoder_url"),
		MaxLength:              viper.GetInt("max_length"),
		FeatureDim:             viper.GetInt("feature_dim"),
		ImageSize:              viper.GetInt("image_size"),
		MaxConcurrentInference: viper.GetInt64("max_concurrent_inference"),
		MaxConcurrentRequests:  viper.GetInt("max_concurrent_requests"),
		MaxQueueSize:           viper.GetInt("max_queue_size"),
		RequestTimeout:         viper.GetDuration("request_timeout"),
	}

	return captiond.Run(ctx, logger, cfg)
}
