package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	defaultAPIID                     int32  = 0
	defaultDumpChannel               int64  = 0
	defaultDev                       bool   = false
	defaultLogLevel                  string = "info"
	defaultPort                      int    = 8000
	defaultStatusPort                int    = 9090
	defaultBaseURL                   string = ""
	defaultUseSessionFile            bool   = true
	defaultWorkerStartTimeoutSeconds int    = 120
)

var ValueOf = &config{
	ApiID:                     defaultAPIID,
	DumpChannel:               defaultDumpChannel,
	Dev:                       defaultDev,
	LogLevel:                  defaultLogLevel,
	Port:                      defaultPort,
	StatusPort:                defaultStatusPort,
	BaseURL:                   defaultBaseURL,
	UseSessionFile:            defaultUseSessionFile,
	WorkerStartTimeoutSeconds: defaultWorkerStartTimeoutSeconds,
}

type config struct {
	ApiID    int32  `envconfig:"API_ID" required:"true"`
	ApiHash  string `envconfig:"API_HASH" required:"true"`
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`

	// DumpChannel is the archive channel media is read from.
	DumpChannel int64 `envconfig:"DUMP_CHANNEL" required:"true"`
	OwnerID     int64 `envconfig:"OWNER_ID"`

	Dev      bool   `envconfig:"DEV" default:"false"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Port       int    `envconfig:"PORT" default:"8000"`
	StatusPort int    `envconfig:"STATUS_PORT" default:"9090"`
	BaseURL    string `envconfig:"BASE_URL" default:""`

	UseSessionFile            bool `envconfig:"USE_SESSION_FILE" default:"true"`
	WorkerStartTimeoutSeconds int  `envconfig:"WORKER_START_TIMEOUT_SECONDS" default:"120"`

	// WorkerBots is the primary way to configure extra worker bots: a single
	// comma-separated WORKER_BOTS env var. MultiTokens is the resolved list
	// StartWorkers actually dispatches from, falling back to the legacy
	// MULTI_TOKEN1, MULTI_TOKEN2, ... env vars when WorkerBots is empty.
	WorkerBots  []string `envconfig:"WORKER_BOTS"`
	MultiTokens []string
}

var multiTokenRegex = regexp.MustCompile(`MULTI\_TOKEN\d+=(.*)`)

func (c *config) loadFromEnvFile(log *zap.Logger) {
	envPath := filepath.Clean("tgfilelinkd.env")
	log.Sugar().Infof("trying to load env vars from %s", envPath)
	err := godotenv.Load(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Sugar().Info("no env file found, relying on the process environment")
		} else {
			log.Fatal("unknown error while parsing env file", zap.Error(err))
		}
	}
}

// SetFlagsFromConfig registers cobra flags mirroring the environment
// variables; a flag that's explicitly set overrides its env var.
func SetFlagsFromConfig(cmd *cobra.Command) {
	cmd.Flags().Int32("api-id", ValueOf.ApiID, "Telegram API ID")
	cmd.Flags().String("api-hash", ValueOf.ApiHash, "Telegram API hash")
	cmd.Flags().String("bot-token", ValueOf.BotToken, "Primary bot token")
	cmd.Flags().Int64("dump-channel", ValueOf.DumpChannel, "Archive channel ID media is read from")
	cmd.Flags().Bool("dev", ValueOf.Dev, "Enable development mode logging")
	cmd.Flags().IntP("port", "p", ValueOf.Port, "Download server port")
	cmd.Flags().Int("status-port", ValueOf.StatusPort, "Status server port")
	cmd.Flags().String("base-url", ValueOf.BaseURL, "Public base URL used when emitting links")
	cmd.Flags().Bool("use-session-file", ValueOf.UseSessionFile, "Persist worker sessions to disk")
}

func (c *config) loadConfigFromArgs(cmd *cobra.Command) {
	if cmd.Flags().Changed("api-id") {
		apiID, _ := cmd.Flags().GetInt32("api-id")
		os.Setenv("API_ID", strconv.Itoa(int(apiID)))
	}
	if cmd.Flags().Changed("api-hash") {
		apiHash, _ := cmd.Flags().GetString("api-hash")
		os.Setenv("API_HASH", apiHash)
	}
	if cmd.Flags().Changed("bot-token") {
		botToken, _ := cmd.Flags().GetString("bot-token")
		os.Setenv("BOT_TOKEN", botToken)
	}
	if cmd.Flags().Changed("dump-channel") {
		dumpChannel, _ := cmd.Flags().GetInt64("dump-channel")
		os.Setenv("DUMP_CHANNEL", strconv.FormatInt(dumpChannel, 10))
	}
	if cmd.Flags().Changed("dev") {
		dev, _ := cmd.Flags().GetBool("dev")
		os.Setenv("DEV", strconv.FormatBool(dev))
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		os.Setenv("PORT", strconv.Itoa(port))
	}
	if cmd.Flags().Changed("status-port") {
		statusPort, _ := cmd.Flags().GetInt("status-port")
		os.Setenv("STATUS_PORT", strconv.Itoa(statusPort))
	}
	if cmd.Flags().Changed("base-url") {
		baseURL, _ := cmd.Flags().GetString("base-url")
		os.Setenv("BASE_URL", baseURL)
	}
	if cmd.Flags().Changed("use-session-file") {
		useSessionFile, _ := cmd.Flags().GetBool("use-session-file")
		os.Setenv("USE_SESSION_FILE", strconv.FormatBool(useSessionFile))
	}
}

func (c *config) loadMultiTokensFromEnv() {
	c.MultiTokens = c.MultiTokens[:0]
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "MULTI_TOKEN") {
			continue
		}
		match := multiTokenRegex.FindStringSubmatch(env)
		if len(match) != 2 {
			continue
		}
		token := strings.TrimSpace(match[1])
		if token == "" {
			continue
		}
		c.MultiTokens = append(c.MultiTokens, token)
	}
}

func (c *config) setupEnvVars(log *zap.Logger, cmd *cobra.Command) {
	c.loadFromEnvFile(log)
	c.loadConfigFromArgs(cmd)
	err := envconfig.Process("", c)
	if err != nil {
		log.Fatal("error while parsing env variables", zap.Error(err))
	}
	if len(c.WorkerBots) > 0 {
		c.MultiTokens = c.WorkerBots
	} else {
		c.loadMultiTokensFromEnv()
	}

	if c.BaseURL == "" {
		ip, err := getInternalIP()
		if err != nil {
			log.Sugar().Warnf("could not determine local IP (%v), defaulting base URL host to localhost", err)
			ip = "localhost"
		}
		c.BaseURL = "http://" + ip + ":" + strconv.Itoa(c.Port)
		log.Sugar().Info("BASE_URL not set, automatically set to " + c.BaseURL)
	}
}

// Load reads configuration from tgfilelinkd.env, the environment, and CLI
// flags (in ascending order of precedence) and normalizes DumpChannel.
func Load(log *zap.Logger, cmd *cobra.Command) {
	log = log.Named("config")
	defer log.Info("loaded config")
	ValueOf.setupEnvVars(log, cmd)
	ValueOf.DumpChannel = int64(stripInt(log, int(ValueOf.DumpChannel)))
	if len(ValueOf.MultiTokens) == 0 {
		log.Sugar().Warn("no WORKER_BOTS (or legacy MULTI_TOKEN*) worker bots configured, running with the primary bot only")
	}
}

// https://stackoverflow.com/a/23558495/15807350
func getInternalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.New("no internet connection")
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

// stripInt strips the chat platform's fixed "-100" channel-ID prefix,
// matching the raw channel ID form the Telegram client API expects.
func stripInt(log *zap.Logger, a int) int {
	strA := strconv.Itoa(abs(a))
	lastDigits := strings.Replace(strA, "100", "", 1)
	result, err := strconv.Atoi(lastDigits)
	if err != nil {
		log.Sugar().Fatalln(err)
		return 0
	}
	return result
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
