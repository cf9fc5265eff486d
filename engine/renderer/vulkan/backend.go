// Package vulkan executes render graphs on a Vulkan device and presents
// through a window surface.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// Window is what the backend needs from the platform layer.
type Window interface {
	GetInstanceProcAddress() unsafe.Pointer
	GetRequiredExtensionNames() []string
	CreateSurface(instance interface{}) (uintptr, error)
	FramebufferSize() (width, height uint32)
}

// Backend bundles the Vulkan collaborators of a device.
type Backend struct {
	context *VulkanContext
	debug   bool

	Allocator   *ImageAllocator
	Executor    *Executor
	Descriptors *DescriptorAllocator
	Presenter   *Presenter
	Device      *gpu.Device
}

func NewBackend(cfg *core.Config, window Window) (*Backend, error) {
	procAddr := window.GetInstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize vk: %w", err)
	}

	b := &Backend{
		context: &VulkanContext{locks: NewVulkanLockPool()},
		debug:   cfg.Renderer.Validation,
	}
	if err := b.createInstance(cfg.Window.Title, window.GetRequiredExtensionNames()); err != nil {
		b.Close()
		return nil, err
	}
	if b.debug {
		if err := b.createDebugger(); err != nil {
			b.Close()
			return nil, err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateSurface(b.context.Instance)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create platform surface: %w", err)
	}
	b.context.Surface = vk.SurfaceFromPointer(surface)

	if err := DeviceCreate(b.context); err != nil {
		b.Close()
		return nil, err
	}

	b.Allocator = NewImageAllocator(b.context)
	b.Executor = NewExecutor(b.context, b.Allocator)
	b.Descriptors = NewDescriptorAllocator(b.context, b.Allocator)

	device, err := gpu.NewDevice(cfg.Renderer, b.Executor, b.Allocator, b.Descriptors)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Device = device
	b.Descriptors.SetResources(device.Resources())

	width, height := window.FramebufferSize()
	presenter, err := NewPresenter(b.context, b.Allocator, vk.Extent2D{Width: width, Height: height})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Presenter = presenter

	core.LogInfo("Vulkan backend initialized successfully.")
	return b, nil
}

func (b *Backend) createInstance(appName string, windowExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima GPU"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := append([]string{"VK_KHR_surface"}, windowExtensions...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if b.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if b.debug {
		found, err := validationLayerAvailable()
		if err != nil {
			return err
		}
		if found {
			layers = append(layers, validationLayerName)
		} else {
			core.LogWarn("Validation layer %s is missing, continuing without it", validationLayerName)
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := vkError("vkCreateInstance", vk.CreateInstance(&createInfo, b.context.Allocator, &instance)); err != nil {
		return err
	}
	b.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func validationLayerAvailable() (bool, error) {
	var count uint32
	if err := vkError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return false, err
	}
	available := make([]vk.LayerProperties, count)
	if err := vkError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return false, err
	}
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].LayerName[:])
		if string(available[i].LayerName[:end]) == validationLayerName {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) createDebugger() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if err := vkError("vkCreateDebugReportCallbackEXT", vk.CreateDebugReportCallback(b.context.Instance, &debugCreateInfo, b.context.Allocator, &dbg)); err != nil {
		return err
	}
	b.context.debugMessenger = dbg
	return nil
}

// Close tears everything down in the opposite order of creation. It is safe
// on a partially initialized backend.
func (b *Backend) Close() error {
	var err error
	switch {
	case b.Device != nil:
		// Closing the device closes the executor.
		err = b.Device.Close()
	case b.Executor != nil:
		err = b.Executor.Close()
	}
	b.Device = nil
	b.Executor = nil
	if b.Presenter != nil {
		b.Presenter.Close()
		b.Presenter = nil
	}
	if b.Descriptors != nil {
		b.Descriptors.Destroy()
		b.Descriptors = nil
	}
	if b.Allocator != nil {
		b.Allocator.Close()
		b.Allocator = nil
	}
	if b.context.Device != nil {
		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(b.context)
		b.context.Device = nil
	}
	if b.context.Surface != vk.NullSurface {
		vk.DestroySurface(b.context.Instance, b.context.Surface, b.context.Allocator)
		b.context.Surface = vk.NullSurface
	}
	if b.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(b.context.Instance, b.context.debugMessenger, b.context.Allocator)
		b.context.debugMessenger = vk.NullDebugReportCallback
	}
	if b.context.Instance != nil {
		vk.DestroyInstance(b.context.Instance, b.context.Allocator)
		b.context.Instance = nil
	}
	return err
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
