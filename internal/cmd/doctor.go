package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lodgepole/farmsight/internal/config"
	"github.com/lodgepole/farmsight/internal/observability"
)

var doctorArchive bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  farmsight doctor            # Full environment check
  farmsight doctor --archive  # Include S3 archive checks`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorArchive, "archive", false, "Run archive storage checks (S3)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 7

	// Add archive checks if requested
	if doctorArchive {
		totalChecks = 9
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.24" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.24+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Configuration
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Cannot load configuration", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ %s:%d", checkNum, totalChecks, cfg.Server.Host, cfg.Server.Port),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
	}
	checkNum++

	// Check 3: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 4: Job store path
	allChecks = runStoreCheck(cfg, checkNum, totalChecks, allChecks)
	checkNum++

	// Check 5: Environment overrides
	overrides := 0
	for _, spec := range config.EnvSpecs() {
		if _, ok := os.LookupEnv(spec.Name); ok {
			overrides++
		}
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment overrides... ✅ %d set", checkNum, totalChecks, overrides),
		zap.Int("env_overrides", overrides))
	checkNum++

	// Check 6: Platform
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking platform... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	// Check 7: Service reachability
	allChecks = runServiceCheck(cmd.Context(), checkNum, totalChecks, allChecks)
	checkNum++

	// Archive-specific checks
	if doctorArchive {
		allChecks = runArchiveChecks(cmd.Context(), checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// runStoreCheck verifies the configured job store directory. A missing
// directory is not a failure; the service creates it on first start.
func runStoreCheck(cfg *config.Config, checkNum, totalChecks int, allChecks bool) bool {
	if cfg == nil || cfg.Store.Path == "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking job store... ✅ memory-only (no store path configured)", checkNum, totalChecks))
		return allChecks
	}

	dir := filepath.Dir(cfg.Store.Path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking job store... ✅ %s (created on first start)", checkNum, totalChecks, dir),
			zap.String("store_dir", dir))
	case err != nil:
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking job store... ❌ Cannot stat %s", checkNum, totalChecks, dir),
			zap.Error(err))
		return false
	case !info.IsDir():
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking job store... ❌ %s is not a directory", checkNum, totalChecks, dir),
			zap.String("store_dir", dir))
		return false
	default:
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking job store... ✅ %s", checkNum, totalChecks, dir),
			zap.String("store_dir", dir),
			zap.String("store_path", cfg.Store.Path))
	}
	return allChecks
}

// runServiceCheck probes the farmsight service version endpoint.
func runServiceCheck(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	api, err := newAPIClient()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking service... ❌ Invalid server address", checkNum, totalChecks),
			zap.Error(err))
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	v, err := api.Version(probeCtx)
	if err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking service... ⚠️  Unreachable", checkNum, totalChecks),
			zap.Error(err))
		observability.CLILogger.Info("  Start the service with: farmsight serve")
		return false
	}

	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking service... ✅ %s v%s", checkNum, totalChecks, v.Name, v.Version),
		zap.String("server_version", v.Version),
		zap.String("server_commit", v.Commit))
	return allChecks
}

// runArchiveChecks runs S3 archive diagnostic checks.
func runArchiveChecks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Archive Checks:")

	// Check 8: AWS credentials
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	// Mask the access key for display
	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	// Check 9: Credential source info
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - AWS_ENDPOINT_URL or FARMSIGHT_ARCHIVE_ENDPOINT")
	observability.CLILogger.Info("")
}
