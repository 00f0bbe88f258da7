package main

import (
	"flag"

	"github.com/danmuck/imgdl/internal/config"
	"github.com/danmuck/imgdl/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", "recv", "config kind: recv|send")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing receiver config file")
	input := flag.String("input", "cmd/imgdl-recv/config.toml", "receiver config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()
	logging.ConfigureRuntime()

	if *validate {
		cfg, err := config.LoadReceiverConfig(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid config")
		}
		log.Info().Str("path", *input).Str("name", cfg.Name).Msg("validated receiver config")
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "recv":
			target = "cmd/imgdl-recv/config.toml"
		case "send":
			target = "cmd/imgdl-send/config.toml"
		default:
			log.Fatal().Str("kind", *kind).Msg("unknown kind")
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
