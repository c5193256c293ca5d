package gateway

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// EnvironmentGVR identifies the KubeDevEnvironment custom resource,
// the only GroupVersionResource this Gateway ever addresses through
// the dynamic client.
var EnvironmentGVR = schema.GroupVersionResource{
	Group:    "kubedev.my-project.com",
	Version:  "v1alpha1",
	Resource: "kubedevenvironments",
}

// CustomObjectCoordinates names one instance of the CR.
type CustomObjectCoordinates struct {
	Namespace string
	Name      string
}

// CreateCustomObject submits a KubeDevEnvironment CR. The caller
// (Spec Normalizer) is responsible for validating apiVersion/kind
// before this is called; the Gateway only performs the cluster write.
func (g *Gateway) CreateCustomObject(ctx context.Context, obj *unstructured.Unstructured) Result[*unstructured.Unstructured] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	ns := obj.GetNamespace()
	created, err := g.dynamicClient.Resource(EnvironmentGVR).Namespace(ns).Create(ctx, obj, metav1.CreateOptions{})
	if err == nil {
		return Ok(created)
	}
	if apierrors.IsAlreadyExists(err) {
		return Result[*unstructured.Unstructured]{Status: StatusOk, Reason: "already exists", Value: obj}
	}
	if isUnavailable(err) {
		return Unavailable[*unstructured.Unstructured](err.Error())
	}
	return Unavailable[*unstructured.Unstructured](fmt.Sprintf("creating custom object %s/%s: %v", ns, obj.GetName(), err))
}

// GetCustomObject reads the current state of a KubeDevEnvironment CR,
// including its controller-written status subresource.
func (g *Gateway) GetCustomObject(ctx context.Context, coords CustomObjectCoordinates) Result[*unstructured.Unstructured] {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	obj, err := g.dynamicClient.Resource(EnvironmentGVR).Namespace(coords.Namespace).Get(ctx, coords.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return NotFound[*unstructured.Unstructured]("no such custom object")
	}
	if err != nil {
		return Unavailable[*unstructured.Unstructured](err.Error())
	}
	return Ok(obj)
}

// DeleteCustomObject removes a KubeDevEnvironment CR by coordinates.
// This is the operation Delete uses (see DESIGN.md's Open Question
// resolution): the CR namespace is shared across environments, so
// Delete must remove only the CR, not the namespace.
func (g *Gateway) DeleteCustomObject(ctx context.Context, coords CustomObjectCoordinates) Result[struct{}] {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := g.dynamicClient.Resource(EnvironmentGVR).Namespace(coords.Namespace).Delete(ctx, coords.Name, metav1.DeleteOptions{})
	if err == nil {
		return Ok(struct{}{})
	}
	if apierrors.IsNotFound(err) {
		return NotFound[struct{}]("no such custom object")
	}
	return Unavailable[struct{}](fmt.Sprintf("deleting custom object %s/%s: %v", coords.Namespace, coords.Name, err))
}
