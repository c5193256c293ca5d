// Package spec parses and validates an uploaded environment manifest,
// injects caller-derived identity fields, sanitizes names to cluster-
// DNS form, and derives the canonical CR name and coordinates.
package spec

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

const (
	// APIVersion is the only accepted apiVersion for an environment
	// manifest.
	APIVersion = "kubedev.my-project.com/v1alpha1"
	// Kind is the only accepted kind for an environment manifest.
	Kind = "KubeDevEnvironment"
)

// ErrMalformedSpec is the sentinel wrapped by every parse/schema
// failure; callers use errors.Is to map it to the orchestrator's
// MalformedSpec error kind.
var ErrMalformedSpec = errors.New("malformed environment manifest")

// ErrInvalidKind is the sentinel wrapped when apiVersion/kind don't
// match the expected CR.
var ErrInvalidKind = errors.New("apiVersion/kind mismatch")

// Principal identifies the caller on whose behalf a manifest is
// normalized.
type Principal struct {
	ID          string
	DisplayName string
}

// ResourceDefaults supplies the configured resource limits
// (DEFAULT_CPU/DEFAULT_MEMORY/DEFAULT_STORAGE). Normalize uses only
// Storage, as spec.storage.size when the manifest omits it; CPU and
// Memory are not applied to the manifest.
type ResourceDefaults struct {
	CPU     string
	Memory  string
	Storage string
}

// GitRef carries a repository URL and branch for the auto-clone
// environment-injection supplemented feature.
type GitRef struct {
	Repository string
	Branch     string
}

// Normalized is the output of Normalize: a ready-to-submit CR plus the
// derived names the Orchestrator needs to track the environment.
type Normalized struct {
	Object        *unstructured.Unstructured
	CRName        string
	CRNamespace   string
	SanitizedName string
	DeclaredGit   *GitRef
}

// Normalize parses an uploaded manifest, validates it, and returns a
// CR ready for submission through the Cluster Gateway. defaultNS is
// the platform's designated CR namespace (CR_NAMESPACE), used when the
// manifest omits metadata.namespace.
func Normalize(manifest []byte, principal Principal, defaultNS string, defaults ResourceDefaults) (*Normalized, error) {
	text, err := decodeManifest(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSpec, err)
	}

	var obj map[string]interface{}
	if err := yaml.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSpec, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: empty manifest", ErrMalformedSpec)
	}

	apiVersion, _ := obj["apiVersion"].(string)
	kind, _ := obj["kind"].(string)
	if apiVersion != APIVersion || kind != Kind {
		return nil, fmt.Errorf("%w: got apiVersion=%q kind=%q", ErrInvalidKind, apiVersion, kind)
	}

	specSection, _ := obj["spec"].(map[string]interface{})
	if specSection == nil {
		specSection = map[string]interface{}{}
		obj["spec"] = specSection
	}

	sanitizedName := Sanitize(principal.DisplayName)
	specSection["userName"] = sanitizedName

	crName := fmt.Sprintf("env-user-%s", principal.ID)

	metadata, _ := obj["metadata"].(map[string]interface{})
	if metadata == nil {
		metadata = map[string]interface{}{}
		obj["metadata"] = metadata
	}
	metadata["name"] = crName

	namespace, _ := metadata["namespace"].(string)
	if namespace == "" {
		namespace = defaultNS
		metadata["namespace"] = namespace
	}

	applyResourceDefaults(specSection, defaults)

	var gitRef *GitRef
	if declaredGit, ok := specSection["gitRepository"].(map[string]interface{}); ok {
		repo, _ := declaredGit["url"].(string)
		branch, _ := declaredGit["branch"].(string)
		if repo != "" {
			gitRef = &GitRef{Repository: repo, Branch: branch}
			injectGitEnv(specSection, *gitRef)
		}
	}

	return &Normalized{
		Object:        &unstructured.Unstructured{Object: obj},
		CRName:        crName,
		CRNamespace:   namespace,
		SanitizedName: sanitizedName,
		DeclaredGit:   gitRef,
	}, nil
}

// applyResourceDefaults fills in storage.size when the manifest
// doesn't declare one, matching settings.DEFAULT_*_LIMIT in the
// original system.
func applyResourceDefaults(specSection map[string]interface{}, defaults ResourceDefaults) {
	storage, _ := specSection["storage"].(map[string]interface{})
	if storage == nil {
		storage = map[string]interface{}{}
		specSection["storage"] = storage
	}
	if _, ok := storage["size"]; !ok && defaults.Storage != "" {
		storage["size"] = defaults.Storage
	}
}

// injectGitEnv carries GIT_REPO/GIT_BRANCH/WORKSPACE/AUTO_CLONE_GIT
// into the CR's declared env, matching environment_service.py's
// deploy_environment. The cluster-side controller's init container
// script is what actually consumes these; the orchestrator only
// carries them.
func injectGitEnv(specSection map[string]interface{}, ref GitRef) {
	env, _ := specSection["env"].(map[string]interface{})
	if env == nil {
		env = map[string]interface{}{}
		specSection["env"] = env
	}
	env["GIT_REPO"] = ref.Repository
	env["GIT_BRANCH"] = ref.Branch
	env["WORKSPACE"] = "/workspace"
	env["AUTO_CLONE_GIT"] = "true"
}

// decodeManifest tries UTF-8 first and falls back to EUC-KR (the
// closest golang.org/x/text encoding to the original system's cp949
// fallback) so manifests authored on non-UTF-8 systems are not
// silently rejected, matching spec.md §4.3 step 1.
func decodeManifest(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decoding manifest: neither UTF-8 nor legacy encoding succeeded: %w", err)
	}
	return string(decoded), nil
}
